package usecase

import (
	"io"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
)

// codeAlphabet omits look-alike characters (0/O, 1/I/L) and is upper-case
// only, so codes compare case-insensitively after normalization
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// newRoomCode draws length characters uniformly from codeAlphabet using r.
// Bytes that would bias the distribution are discarded.
func newRoomCode(r io.Reader, length int) (string, error) {
	const n = byte(len(codeAlphabet))
	limit := 256 - 256%int(n)

	code := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(code) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", domain.Fault("read room code entropy", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, codeAlphabet[b%n])
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}
