package mbox

import (
	"bufio"
	"io"
)

// lineReader walks a container line by line while tracking the byte
// offset of each line.
type lineReader struct {
	reader *bufio.Reader
	offset int64
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{
		reader: bufio.NewReader(r),
	}
}

// next returns the next line, newline included, and its starting offset.
// The last line of the container may have no trailing newline. At the end
// of the container it returns an empty line and no error.
func (l *lineReader) next() (string, int64, error) {
	offset := l.offset
	line, err := l.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", offset, err
	}
	l.offset += int64(len(line))
	return line, offset, nil
}
