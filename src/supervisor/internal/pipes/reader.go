package pipes

import (
	"io"
	"strings"

	"github.com/q-controller/nea-supervisor/src/utils"
	"golang.org/x/sys/unix"
)

type fdReader struct {
	fd         int
	dataBuffer strings.Builder
}

// Read drains the descriptor until it would block and returns the complete
// JSON objects seen so far. On end of stream the objects that arrived with
// it are returned together with io.EOF.
func (r *fdReader) Read() ([]string, error) {
	var readErr error
	temp := make([]byte, 4096)

	for {
		n, err := unix.Read(r.fd, temp)
		if n > 0 {
			r.dataBuffer.Write(temp[:n])
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err != nil {
			readErr = err
		} else {
			readErr = io.EOF
		}
		break
	}

	jsonStrings, remaining, _ := utils.ParseJSONObjects(r.dataBuffer.String())

	r.dataBuffer.Reset()
	if remaining != "" {
		r.dataBuffer.WriteString(remaining)
	}

	return jsonStrings, readErr
}
