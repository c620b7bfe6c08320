// Package pciutil parses PCI bus addresses and drives the sysfs interface
// Linux exposes for each PCI device, giving userspace the same device
// control a kernel driver would have: configuration-space access, BAR0
// mapping, bus-master DMA enable, and driver unbinding.
package pciutil

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

var addressPattern = regexp.MustCompile(`^(?:([0-9a-fA-F]{4}):)?([0-9a-fA-F]{2}):([0-9a-fA-F]{2})\.([0-9a-fA-F])$`)

// Address identifies a PCI function as domain:bus:device.function.
type Address struct {
	Domain   uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

// ParseAddress parses the conventional [DDDD:]BB:DD.F textual form Linux
// uses for PCI addresses, such as "0000:03:00.1" or "03:00.1".
func ParseAddress(s string) (Address, error) {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("pciutil: invalid PCI address %q", s)
	}

	domain := uint64(0)
	if m[1] != "" {
		domain, _ = strconv.ParseUint(m[1], 16, 16)
	}
	bus, _ := strconv.ParseUint(m[2], 16, 8)
	device, _ := strconv.ParseUint(m[3], 16, 8)
	function, _ := strconv.ParseUint(m[4], 16, 8)

	return Address{
		Domain:   uint16(domain),
		Bus:      uint8(bus),
		Device:   uint8(device),
		Function: uint8(function),
	}, nil
}

// String renders the address in zero-padded domain:bus:device.function
// form, matching the sysfs directory name for the device.
func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}

// Known vendor ids used to pick a driver backend for a probed device.
const (
	VendorIntel   = 0x8086
	VendorVirtIO  = 0x1af4
	ClassNetwork  = 0x02
)

// Config holds the fields of the standard 64-byte PCI configuration-space
// header that the driver cares about.
type Config struct {
	VendorID   uint16
	DeviceID   uint16
	Command    uint16
	Status     uint16
	RevisionID uint8
	ClassCode  uint32
}

// Device is a handle to a PCI function exposed under /sys/bus/pci/devices.
type Device struct {
	Address Address
	path    string
}

// Open returns a handle to the PCI device at addr. It does not itself
// touch the device; call ReadConfig, MapResource or EnableDMA as needed.
func Open(addr Address) *Device {
	return &Device{Address: addr, path: "/sys/bus/pci/devices/" + addr.String()}
}

func (d *Device) configPath() string {
	return d.path + "/config"
}

// ReadConfig reads the device's configuration-space header.
func (d *Device) ReadConfig() (Config, error) {
	f, err := os.Open(d.configPath())
	if err != nil {
		return Config{}, fmt.Errorf("pciutil: open config: %w", err)
	}
	defer f.Close()

	var hdr [64]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return Config{}, fmt.Errorf("pciutil: read config: %w", err)
	}

	return Config{
		VendorID:   le16(hdr[0:2]),
		DeviceID:   le16(hdr[2:4]),
		Command:    le16(hdr[4:6]),
		Status:     le16(hdr[6:8]),
		RevisionID: hdr[8],
		ClassCode:  uint32(hdr[9]) | uint32(hdr[10])<<8 | uint32(hdr[11])<<16,
	}, nil
}

// EnableDMA sets the bus-master enable bit (bit 2) in the PCI command
// register so the device may initiate DMA transfers.
func (d *Device) EnableDMA() error {
	f, err := os.OpenFile(d.configPath(), os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("pciutil: open config: %w", err)
	}
	defer f.Close()

	var command [2]byte
	if _, err := f.ReadAt(command[:], 4); err != nil {
		return fmt.Errorf("pciutil: read command register: %w", err)
	}

	command[0] |= 1 << 2

	if _, err := f.WriteAt(command[:], 4); err != nil {
		return fmt.Errorf("pciutil: write command register: %w", err)
	}

	return nil
}

// HasDriver reports whether a kernel driver is currently bound to the
// device.
func (d *Device) HasDriver() bool {
	_, err := os.Stat(d.path + "/driver/unbind")
	return err == nil
}

// UnbindDriver detaches whatever kernel driver currently owns the device,
// which is required before userspace can safely mmap its BARs.
func (d *Device) UnbindDriver() error {
	path := d.path + "/driver/unbind"
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("pciutil: no driver bound to %s", d.Address)
	}
	defer f.Close()

	if _, err := f.WriteString(d.Address.String()); err != nil {
		return fmt.Errorf("pciutil: unbind: %w", err)
	}
	return nil
}

// MapResource mmaps the device's first BAR (resource0), the memory window
// holding its control registers.
func (d *Device) MapResource() ([]byte, error) {
	path := d.path + "/resource0"
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pciutil: no resource0 at %s", d.path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("pciutil: open resource0: %w", err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pciutil: mmap resource0: %w", err)
	}

	return mem, nil
}

// OpenResourceFile opens the device's first BAR (resource0) for reading
// and writing via pread/pwrite, for devices whose register window is
// addressed by byte offset rather than mmap'd, such as legacy virtio-pci.
func (d *Device) OpenResourceFile() (*os.File, error) {
	path := d.path + "/resource0"
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("pciutil: open resource0: %w", err)
	}
	return f, nil
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
