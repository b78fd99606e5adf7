package upload

import (
	"fmt"
	"io"
	"mime/multipart"
)

// ReadMultipart loads uploaded parts into memory. Each part is read up to one
// byte past the limit so CheckFile can still report it as too large without
// buffering an arbitrarily big file.
func ReadMultipart(headers []*multipart.FileHeader, limits Limits) ([]File, error) {
	maxBytes := limits.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	files := make([]File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh, int64(maxBytes)+1)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", fh.Filename, err)
		}
		files = append(files, File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader, n int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, n))
}
