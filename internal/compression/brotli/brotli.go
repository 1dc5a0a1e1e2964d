// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package brotli

import (
	"bytes"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
)

// readerPool reuses brotli readers across decompressions
var readerPool = sync.Pool{
	New: func() any {
		return brotli.NewReader(nil)
	},
}

// writerPool reuses brotli writers at the default compression level
var writerPool = sync.Pool{
	New: func() any {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

// Compress returns the brotli-compressed form of data.
func Compress(data []byte) ([]byte, error) {
	writer := writerPool.Get().(*brotli.Writer)
	defer writerPool.Put(writer)

	buffer := new(bytes.Buffer)
	writer.Reset(buffer)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Decompress inflates data previously produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	reader := readerPool.Get().(*brotli.Reader)
	defer readerPool.Put(reader)

	if err := reader.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}
