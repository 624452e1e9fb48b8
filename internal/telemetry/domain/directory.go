package telemetry

import "strings"

// Directory maps room names to the sensor devices installed in them.
type Directory struct {
	roomToDevice map[string]string
	deviceToRoom map[string]string
}

// NewDirectory builds a directory from a room -> device map.
func NewDirectory(rooms map[string]string) *Directory {
	d := &Directory{
		roomToDevice: make(map[string]string, len(rooms)),
		deviceToRoom: make(map[string]string, len(rooms)),
	}
	for room, device := range rooms {
		room = strings.TrimSpace(room)
		device = strings.TrimSpace(device)
		if room == "" || device == "" {
			continue
		}
		d.roomToDevice[room] = device
		d.deviceToRoom[device] = room
	}
	return d
}

// EntityForDevice returns the room a device reports for, or the device id itself.
func (d *Directory) EntityForDevice(deviceID string) string {
	if d == nil {
		return deviceID
	}
	if room, ok := d.deviceToRoom[deviceID]; ok {
		return room
	}
	return deviceID
}

// DeviceForRoom returns the sensor device mapped to a room.
func (d *Directory) DeviceForRoom(room string) (string, bool) {
	if d == nil {
		return "", false
	}
	device, ok := d.roomToDevice[room]
	return device, ok
}

// Rooms returns the configured room names.
func (d *Directory) Rooms() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.roomToDevice))
	for room := range d.roomToDevice {
		out = append(out, room)
	}
	return out
}
