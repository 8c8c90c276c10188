package voiceagent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
	HostAPI           string
}

func (d AudioDevice) IsInput() bool  { return d.MaxInputChannels > 0 }
func (d AudioDevice) IsOutput() bool { return d.MaxOutputChannels > 0 }

// AudioDeviceManager lists PortAudio devices. Device IDs are indexes into
// portaudio.Devices() and are what CaptureConfig.DeviceID and the sink
// factory accept.
type AudioDeviceManager struct {
	mu      sync.RWMutex
	devices []AudioDevice
	logger  *AgentLogger
}

func NewAudioDeviceManager() *AudioDeviceManager {
	return &AudioDeviceManager{
		logger: GetGlobalLogger().WithComponent("devices"),
	}
}

// Initialize initializes PortAudio and loads the device list. Call Cleanup
// when done.
func (adm *AudioDeviceManager) Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		adm.logger.WithError(err).Error("failed to initialize PortAudio")
		return err
	}
	if err := adm.Refresh(); err != nil {
		adm.logger.WithError(err).Error("failed to refresh device list")
		return err
	}

	adm.logger.WithField("device_count", len(adm.Devices())).Debug("audio device manager initialized")
	return nil
}

func (adm *AudioDeviceManager) Cleanup() {
	if err := portaudio.Terminate(); err != nil {
		adm.logger.WithError(err).Error("failed to terminate PortAudio")
	}
}

func (adm *AudioDeviceManager) Refresh() error {
	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		adm.logger.WithError(err).Warn("no default input device")
	}
	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		adm.logger.WithError(err).Warn("no default output device")
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return err
	}

	devices := make([]AudioDevice, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, toAudioDevice(i, info, defaultInput, defaultOutput))
	}

	adm.mu.Lock()
	adm.devices = devices
	adm.mu.Unlock()
	return nil
}

func toAudioDevice(id int, info, defaultInput, defaultOutput *portaudio.DeviceInfo) AudioDevice {
	hostAPI := "Unknown"
	if info.HostApi != nil {
		hostAPI = info.HostApi.Name
	}
	return AudioDevice{
		ID:                id,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		IsDefaultInput:    defaultInput != nil && info == defaultInput,
		IsDefaultOutput:   defaultOutput != nil && info == defaultOutput,
		HostAPI:           hostAPI,
	}
}

// Devices returns a copy of the device list.
func (adm *AudioDeviceManager) Devices() []AudioDevice {
	adm.mu.RLock()
	defer adm.mu.RUnlock()
	devices := make([]AudioDevice, len(adm.devices))
	copy(devices, adm.devices)
	return devices
}

func (adm *AudioDeviceManager) InputDevices() []AudioDevice {
	return adm.filter(AudioDevice.IsInput)
}

func (adm *AudioDeviceManager) OutputDevices() []AudioDevice {
	return adm.filter(AudioDevice.IsOutput)
}

func (adm *AudioDeviceManager) filter(keep func(AudioDevice) bool) []AudioDevice {
	adm.mu.RLock()
	defer adm.mu.RUnlock()
	out := make([]AudioDevice, 0)
	for _, d := range adm.devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func (adm *AudioDeviceManager) DeviceByID(id int) (*AudioDevice, error) {
	adm.mu.RLock()
	defer adm.mu.RUnlock()
	for _, d := range adm.devices {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, fmt.Errorf("device with ID %d not found", id)
}

// ValidateDevice checks that a device can serve the given direction and
// channel count.
func (adm *AudioDeviceManager) ValidateDevice(deviceID int, isInput bool, channels int) error {
	device, err := adm.DeviceByID(deviceID)
	if err != nil {
		return err
	}

	if isInput {
		if device.MaxInputChannels < channels {
			return fmt.Errorf("device '%s' supports max %d input channels, requested %d",
				device.Name, device.MaxInputChannels, channels)
		}
		return nil
	}
	if device.MaxOutputChannels < channels {
		return fmt.Errorf("device '%s' supports max %d output channels, requested %d",
			device.Name, device.MaxOutputChannels, channels)
	}
	return nil
}

// FormatDevice renders one line per device for listings.
func FormatDevice(d AudioDevice) string {
	var caps []string
	if d.IsInput() {
		caps = append(caps, fmt.Sprintf("in:%d", d.MaxInputChannels))
	}
	if d.IsOutput() {
		caps = append(caps, fmt.Sprintf("out:%d", d.MaxOutputChannels))
	}
	if d.IsDefaultInput {
		caps = append(caps, "default-in")
	}
	if d.IsDefaultOutput {
		caps = append(caps, "default-out")
	}
	return fmt.Sprintf("[%d] %s (%s, %.0f Hz) %s", d.ID, d.Name, d.HostAPI, d.DefaultSampleRate, strings.Join(caps, " "))
}

// lookupDevice resolves a device ID. PortAudio must be initialized.
func lookupDevice(id int) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(infos) {
		return nil, fmt.Errorf("device with ID %d not found", id)
	}
	return infos[id], nil
}
