package capture

import (
	"encoding/binary"
	"fmt"
	"os"
)

// wavWriter streams 16-bit little-endian PCM into a WAV file. The RIFF and
// data chunk sizes are written as placeholders and patched on close.
type wavWriter struct {
	f          *os.File
	sampleRate int
	channels   int
	dataBytes  int64
}

const wavHeaderSize = 44

// newWAVWriter creates path and writes the PCM header.
func newWAVWriter(path string, sampleRate, channels int) (*wavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	w := &wavWriter{f: f, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *wavWriter) writeHeader() error {
	const (
		bitsPerSample = 16
		pcmFormat     = 1
	)
	byteRate := w.sampleRate * w.channels * bitsPerSample / 8
	blockAlign := w.channels * bitsPerSample / 8

	var header [wavHeaderSize]byte
	copy(header[0:4], "RIFF")
	// RIFF size patched on close
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	// data size patched on close

	_, err := w.f.Write(header[:])
	return err
}

// Write appends raw PCM bytes.
func (w *wavWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.dataBytes += int64(n)
	return n, err
}

// Close patches the chunk sizes and closes the file.
func (w *wavWriter) Close() error {
	var size [4]byte

	binary.LittleEndian.PutUint32(size[:], uint32(36+w.dataBytes))
	if _, err := w.f.WriteAt(size[:], 4); err != nil {
		w.f.Close()
		return fmt.Errorf("patch riff size: %w", err)
	}

	binary.LittleEndian.PutUint32(size[:], uint32(w.dataBytes))
	if _, err := w.f.WriteAt(size[:], 40); err != nil {
		w.f.Close()
		return fmt.Errorf("patch data size: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync wav: %w", err)
	}
	return w.f.Close()
}
