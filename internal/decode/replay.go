package decode

import (
	"io"

	"github.com/valyala/bytebufferpool"
)

// replayReader 记录探测阶段读过的字节，Rewind 后先回放记录再继续读底层流，
// 这样边界探测与 EXIF 读取都不会吞掉解码器需要的数据。
type replayReader struct {
	r         io.Reader
	buf       *bytebufferpool.ByteBuffer
	pos       int
	recording bool
}

func newReplayReader(r io.Reader) *replayReader {
	return &replayReader{r: r, buf: bytebufferpool.Get(), recording: true}
}

func (r *replayReader) Read(p []byte) (int, error) {
	if r.buf != nil && r.pos < r.buf.Len() {
		n := copy(p, r.buf.B[r.pos:])
		r.pos += n
		return n, nil
	}
	if !r.recording {
		r.release()
	}
	n, err := r.r.Read(p)
	if n > 0 && r.recording {
		r.buf.Write(p[:n])
		r.pos += n
	}
	return n, err
}

// Rewind 回到起点并继续记录。
func (r *replayReader) Rewind() {
	r.pos = 0
}

// Replay 回到起点并停止记录，回放完成后释放缓冲。
func (r *replayReader) Replay() {
	r.pos = 0
	r.recording = false
}

func (r *replayReader) release() {
	if r.buf != nil {
		bytebufferpool.Put(r.buf)
		r.buf = nil
	}
}

// Close 释放缓冲，不关闭底层流。
func (r *replayReader) Close() {
	r.release()
}
