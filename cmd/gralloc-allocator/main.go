package main

import (
	"context"
	"os"
	"os/signal"
	"unsafe"

	"github.com/ranchu-emu/gralloc/addrspace"
	"github.com/ranchu-emu/gralloc/allocator"
	"github.com/ranchu-emu/gralloc/hostconn"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var socketDir string
	var noPriorityBoost bool

	cmd := &cobra.Command{
		Use:   "gralloc-allocator",
		Short: "Serves graphics buffer allocations for the emulated GPU",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(socketDir, noPriorityBoost)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&socketDir, "socket-dir", allocator.DefaultSocketDir, "directory the service socket is published under")
	cmd.Flags().BoolVar(&noPriorityBoost, "no-priority-boost", false, "skip the realtime scheduling boost")
	return cmd
}

func run(socketDir string, noPriorityBoost bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr))

	if !noPriorityBoost {
		err := boostPriority()
		if err != nil {
			logger.Warn("running without a realtime priority boost", slog.Any("error", err))
		}
	}

	conn, err := hostconn.Dial(logger)
	if err != nil {
		logger.Error("failed to reach the host channel", slog.Any("error", err))
		return err
	}

	alloc, err := allocator.New(logger, allocator.CreateOptions{
		Connection: conn,
		Memory:     pickMemory(logger),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	return allocator.Serve(ctx, logger, alloc, socketDir)
}

// shmPhysBias keeps memfd-backed regions out of the low guest-physical
// range the device allocator hands out.
const shmPhysBias = 0x1_0000_0000

func pickMemory(logger *slog.Logger) addrspace.Allocator {
	if addrspace.DeviceAvailable() {
		return addrspace.NewDeviceAllocator()
	}
	logger.Warn("address-space device is absent, falling back to memfd regions")
	return addrspace.NewShmAllocator(shmPhysBias)
}

// boostPriority moves the daemon to SCHED_FIFO priority 2 so allocation
// requests are not starved by render threads. Reset-on-fork keeps any
// helper processes at normal priority.
func boostPriority() error {
	param := struct{ priority int32 }{priority: 2}
	_, _, errno := unix.Syscall(
		unix.SYS_SCHED_SETSCHEDULER,
		0,
		uintptr(unix.SCHED_FIFO|unix.SCHED_RESET_ON_FORK),
		uintptr(unsafe.Pointer(&param)),
	)
	if errno != 0 {
		return errno
	}
	return nil
}
