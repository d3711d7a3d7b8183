package pty

import "golang.org/x/sys/unix"

// disableEchoAndCanon clears ECHO and ICANON on the slave. ISIG stays set so
// Ctrl+C from the remote terminal still interrupts the foreground job.
func disableEchoAndCanon(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Lflag &^= unix.ECHO | unix.ICANON
	t.Lflag |= unix.ISIG
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
