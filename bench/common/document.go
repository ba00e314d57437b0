package common

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateDocuments creates plist documents of roughly size bytes each. The
// documents differ in their string values so compression cannot collapse
// them into one.
func GenerateDocuments(count, size int) [][]byte {
	docs := make([][]byte, count)
	for i := range docs {
		docs[i] = generateDocument(size)
	}
	return docs
}

func generateDocument(size int) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<plist version=\"1.0\">\n<dict>\n")
	noise := make([]byte, 16)
	for i := 0; b.Len() < size; i++ {
		rand.Read(noise)
		switch i % 3 {
		case 0:
			fmt.Fprintf(&b, "\t<key>flag%d</key>\n\t<true/>\n", i)
		case 1:
			fmt.Fprintf(&b, "\t<key>number%d</key>\n\t<integer>%d</integer>\n", i, i*7)
		default:
			fmt.Fprintf(&b, "\t<key>text%d</key>\n\t<string>%s</string>\n", i, hex.EncodeToString(noise))
		}
	}
	b.WriteString("</dict>\n</plist>\n")
	return b.Bytes()
}

// TotalByteSize returns the total bytes across all documents.
func TotalByteSize(docs [][]byte) int64 {
	var total int64
	for _, doc := range docs {
		total += int64(len(doc))
	}
	return total
}
