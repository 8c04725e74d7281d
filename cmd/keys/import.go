package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/mohitmehta601/agricure/internal/models"
	"gopkg.in/yaml.v3"
)

// keyFile is the import document. A bare list of entries is also accepted.
// JSON files parse the same way.
type keyFile struct {
	ProductName string                       `yaml:"product_name"`
	ProductID   string                       `yaml:"product_id"`
	Keys        []models.LicenseKeyProvision `yaml:"keys"`
}

// loadKeyFile reads provisioning entries from path. Entries without a
// product name inherit the document-level one.
func loadKeyFile(path string) ([]models.LicenseKeyProvision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseKeyFile(data)
}

func parseKeyFile(data []byte) ([]models.LicenseKeyProvision, error) {
	var doc keyFile

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) || bytes.HasPrefix(trimmed, []byte("-")) {
		if err := yaml.Unmarshal(data, &doc.Keys); err != nil {
			return nil, fmt.Errorf("parse key list: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}

	entries := make([]models.LicenseKeyProvision, 0, len(doc.Keys))
	for i, e := range doc.Keys {
		e.Key = strings.TrimSpace(e.Key)
		if e.ProductName == "" {
			e.ProductName = doc.ProductName
		}
		if e.ProductID == "" {
			e.ProductID = doc.ProductID
		}
		if e.Key == "" || e.ProductName == "" {
			return nil, fmt.Errorf("entry %d: key and product_name are required", i+1)
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no keys found")
	}
	return entries, nil
}
