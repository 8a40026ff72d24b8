package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

// nbdSlots is how many /dev/nbdN devices the nbd kernel module exposes
// by default.
const nbdSlots = 16

// nbdAllocator hands out network block device slots. A slot is taken
// when this process holds it or when the kernel reports a server pid
// for it, which covers qemu-nbd instances owned by other processes.
type nbdAllocator struct {
	mu      sync.Mutex
	held    [nbdSlots]bool
	sysRoot string
}

func newNBDAllocator() *nbdAllocator {
	return &nbdAllocator{sysRoot: "/sys/block"}
}

// Acquire reserves a free slot and returns its device path.
func (a *nbdAllocator) Acquire() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := 0; n < nbdSlots; n++ {
		if a.held[n] || a.kernelBusy(n) {
			continue
		}
		a.held[n] = true
		return fmt.Sprintf("/dev/nbd%d", n), nil
	}
	return "", fmt.Errorf("all %d nbd slots busy: %w", nbdSlots, imgerrors.ErrNetworkBlockDevice)
}

// Release frees a slot previously handed out by Acquire. Unknown
// devices are ignored.
func (a *nbdAllocator) Release(device string) {
	n, ok := slotIndex(device)
	if !ok {
		return
	}
	a.mu.Lock()
	a.held[n] = false
	a.mu.Unlock()
}

// kernelBusy reports whether an nbd server is connected to slot n.
// The pid file exists only while a server holds the device.
func (a *nbdAllocator) kernelBusy(n int) bool {
	_, err := os.Stat(filepath.Join(a.sysRoot, fmt.Sprintf("nbd%d", n), "pid"))
	return err == nil
}

func slotIndex(device string) (int, bool) {
	suffix, ok := strings.CutPrefix(device, "/dev/nbd")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 || n >= nbdSlots {
		return 0, false
	}
	return n, true
}

// partitionDevice is the root partition of an nbd disk.
func partitionDevice(device string) string {
	return device + "p1"
}
