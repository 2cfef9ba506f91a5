package mapper

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// fenceWarningTimeoutMs is how long a fence may stay unsignalled before
// the wait is logged. The wait itself never gives up.
const fenceWarningTimeoutMs = 5000

// waitFence blocks until the sync fd signals. A stuck fence produces one
// warning after the soft timeout, then the wait continues with no
// deadline.
func (m *Mapper) waitFence(fd int) error {
	signalled, err := pollFence(fd, fenceWarningTimeoutMs)
	if err != nil {
		return err
	}
	if signalled {
		return nil
	}

	m.logger.Warn("fence did not signal in time",
		slog.Int("fd", fd),
		slog.Int("timeoutMs", fenceWarningTimeoutMs),
	)

	signalled, err = pollFence(fd, -1)
	if err != nil {
		return err
	}
	if !signalled {
		return errors.Newf("fence %d poll returned without a signal", fd)
	}
	return nil
}

func pollFence(fd int, timeoutMs int) (bool, error) {
	for {
		pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollFds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, errors.Wrapf(err, "polling fence %d", fd)
		}
		if count == 0 {
			return false, nil
		}
		if pollFds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, errors.Newf("fence %d reported events 0x%X", fd, pollFds[0].Revents)
		}
		return true, nil
	}
}
