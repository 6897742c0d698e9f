package pipes

import "golang.org/x/sys/unix"

// Pipe returns a pipe whose ends are close-on-exec. Ends listed in
// nonblocking are switched to non-blocking mode; the other end keeps
// blocking semantics for the process that inherits it.
func Pipe(nonblockingRead, nonblockingWrite bool) (int, int, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return -1, -1, err
	}
	for i, nonblocking := range []bool{nonblockingRead, nonblockingWrite} {
		unix.CloseOnExec(fds[i])
		if !nonblocking {
			continue
		}
		if err := unix.SetNonblock(fds[i], true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}
