// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

// fakeHost stands in for the PortAudio library for the duration of a test.
type fakeHost struct {
	devices     []*portaudio.DeviceInfo
	defaultIn   int // index into devices, -1 for none
	devicesErr  error
	initErr     error
	inits, exit int
}

func installHost(t *testing.T, h *fakeHost) {
	t.Helper()
	origInit, origTerm := paLibInitialize, paLibTerminate
	origDevices, origDefault := paDevicesFunc, paLibDefaultInputDeviceFunc
	t.Cleanup(func() {
		paLibInitialize, paLibTerminate = origInit, origTerm
		paDevicesFunc, paLibDefaultInputDeviceFunc = origDevices, origDefault
	})

	paLibInitialize = func() error {
		h.inits++
		return h.initErr
	}
	paLibTerminate = func() error {
		h.exit++
		return nil
	}
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return h.devices, h.devicesErr
	}
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		if h.defaultIn < 0 {
			return nil, errors.New("no default input device")
		}
		return h.devices[h.defaultIn], nil
	}
}

// arrayHost has a speaker at index 0 so device IDs and input capability differ.
func arrayHost() *fakeHost {
	return &fakeHost{
		devices: []*portaudio.DeviceInfo{
			{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
			{
				Name: "Array Mic", MaxInputChannels: 4, DefaultSampleRate: 16000,
				DefaultLowInputLatency: 4 * time.Millisecond, DefaultHighInputLatency: 40 * time.Millisecond,
			},
			{Name: "Headset", MaxInputChannels: 1, MaxOutputChannels: 2, DefaultSampleRate: 16000},
		},
		defaultIn: 2,
	}
}

func TestInputDeviceSelection(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeHost)
		id      int
		want    string
		wantErr string
	}{
		{name: "system default", id: -1, want: "Headset"},
		{name: "by index", id: 1, want: "Array Mic"},
		{name: "output only", id: 0, wantErr: "does not support input"},
		{name: "below default", id: -2, wantErr: "invalid device ID"},
		{name: "past the end", id: 3, wantErr: "invalid device ID"},
		{name: "no default", id: -1, mutate: func(h *fakeHost) { h.defaultIn = -1 }, wantErr: "no default input"},
		{name: "host failure", id: 1, mutate: func(h *fakeHost) { h.devicesErr = errors.New("host api gone") }, wantErr: "host api gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := arrayHost()
			if tt.mutate != nil {
				tt.mutate(h)
			}
			installHost(t, h)

			dev, err := InputDevice(tt.id)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("InputDevice(%d) = %v, want error containing %q", tt.id, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("InputDevice(%d): %v", tt.id, err)
			}
			if dev.Name != tt.want {
				t.Errorf("InputDevice(%d) = %q, want %q", tt.id, dev.Name, tt.want)
			}
		})
	}
}

func TestNewPortAudioDriverLatency(t *testing.T) {
	installHost(t, arrayHost())

	for _, low := range []bool{true, false} {
		d, err := NewPortAudioDriver(PortAudioConfig{DeviceID: 1, LowLatency: low})
		if err != nil {
			t.Fatalf("NewPortAudioDriver: %v", err)
		}
		want := 40 * time.Millisecond
		if low {
			want = 4 * time.Millisecond
		}
		if d.inputLatency != want || d.DeviceName() != "Array Mic" {
			t.Errorf("low=%v: device %q latency %v, want %v", low, d.DeviceName(), d.inputLatency, want)
		}
	}

	if _, err := NewPortAudioDriver(PortAudioConfig{DeviceID: 0}); err == nil {
		t.Error("driver opened on an output-only device")
	}
}

func TestHostDevicesFeedPicker(t *testing.T) {
	installHost(t, arrayHost())

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices: %v", err)
	}
	var capture []string
	for i, d := range devices {
		if d.ID != i {
			t.Errorf("device %q has ID %d, want its host index %d", d.Name, d.ID, i)
		}
		if d.CanCapture() {
			capture = append(capture, d.Name)
		}
	}
	if strings.Join(capture, ",") != "Array Mic,Headset" {
		t.Errorf("capture devices = %v", capture)
	}
	if mic := devices[1]; mic.LowInputLatency != 4*time.Millisecond || mic.HighInputLatency != 40*time.Millisecond {
		t.Errorf("latencies not carried over: %+v", mic)
	}
}

func TestGetDevicesManagesLibrary(t *testing.T) {
	h := arrayHost()
	installHost(t, h)

	devices, err := GetDevices()
	if err != nil {
		t.Fatalf("GetDevices: %v", err)
	}
	if len(devices) != 3 || h.inits != 1 || h.exit != 1 {
		t.Errorf("got %d devices with %d init / %d terminate", len(devices), h.inits, h.exit)
	}

	h.initErr = errors.New("no audio server")
	if _, err := GetDevices(); err == nil || !strings.Contains(err.Error(), "failed to initialize PortAudio") {
		t.Errorf("GetDevices with failing init = %v", err)
	}
	if h.exit != 1 {
		t.Error("Terminate called after a failed Initialize")
	}
}

func TestPaDevicesNeverNil(t *testing.T) {
	orig := paLibDevicesFunc
	t.Cleanup(func() { paLibDevicesFunc = orig })

	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return nil, nil }
	if devices, err := paDevices(); err != nil || devices == nil {
		t.Errorf("paDevices = %v, %v; want an empty slice", devices, err)
	}

	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, errors.New("PortAudio not initialized")
	}
	if devices, err := paDevices(); err == nil || devices != nil {
		t.Errorf("paDevices = %v, %v; want the host error", devices, err)
	}
}

func TestListDevicesFormatsMockedHost(t *testing.T) {
	installHost(t, arrayHost())

	var out bytes.Buffer
	if err := ListDevices(&out); err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	for _, want := range []string{"[0] Speakers (Output)", "[1] Array Mic (Input)", "[2] Headset (Input/Output)", "Low=4.00ms", "16000 Hz"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDeviceKind(t *testing.T) {
	tests := []struct {
		in, out int
		want    string
		capture bool
	}{
		{2, 2, "Input/Output", true},
		{1, 0, "Input", true},
		{0, 2, "Output", false},
		{0, 0, "Unknown", false},
	}
	for _, tt := range tests {
		d := Device{MaxInputChannels: tt.in, MaxOutputChannels: tt.out}
		if d.Kind() != tt.want || d.CanCapture() != tt.capture {
			t.Errorf("Device(%d in, %d out): kind=%s capture=%v", tt.in, tt.out, d.Kind(), d.CanCapture())
		}
	}
}
