package s3events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

type notificationRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

func notificationRecords(body []byte) ([]notificationRecord, error) {
	var direct struct {
		Records []notificationRecord `json:"Records"`
		Message string               `json:"Message"`
	}
	if err := json.Unmarshal(body, &direct); err != nil {
		return nil, fmt.Errorf("parsing S3 event notification: %w", err)
	}
	if direct.Records != nil {
		return direct.Records, nil
	}
	if direct.Message == "" {
		return nil, nil
	}

	var wrapped struct {
		Records []notificationRecord `json:"Records"`
	}
	if err := json.Unmarshal([]byte(direct.Message), &wrapped); err != nil {
		return nil, fmt.Errorf("parsing SNS-wrapped S3 event notification: %w", err)
	}
	return wrapped.Records, nil
}

// decompress gunzips the object body; content without a gzip header passes
// through unchanged.
func decompress(body io.Reader) ([]byte, error) {
	buffered := bufio.NewReader(body)
	magic, err := buffered.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, buffered); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
