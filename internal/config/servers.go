package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Server is one entry of the discovery list shown on the login page.
type Server struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ServerList is the on-disk document: {"servers":[...]}.
type ServerList struct {
	Servers []Server `json:"servers"`
}

// DefaultServerList is served when the file does not exist.
func DefaultServerList() ServerList {
	return ServerList{Servers: []Server{
		{Name: "默认服务器", URL: "http://localhost:5000"},
	}}
}

// LoadServers reads the list at path, or returns DefaultServerList if the
// file does not exist.
func LoadServers(path string) (ServerList, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultServerList(), nil
	}
	if err != nil {
		return ServerList{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var list ServerList
	if err := json.Unmarshal(data, &list); err != nil {
		return ServerList{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if list.Servers == nil {
		list.Servers = []Server{}
	}
	return list, nil
}

// SaveServers writes list to path as two-space indented JSON. Non-ASCII
// names are written as-is.
func SaveServers(path string, list ServerList) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		return fmt.Errorf("config: encode servers: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// EnsureServers loads the list and writes it back, creating the file with
// the default list on first start.
func EnsureServers(path string) (ServerList, error) {
	list, err := LoadServers(path)
	if err != nil {
		return ServerList{}, err
	}
	if err := SaveServers(path, list); err != nil {
		return ServerList{}, err
	}
	return list, nil
}
