package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vertexmcp/vertexmcp/internal/infrastructure/mcp"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// mcpFile is the on-disk shape of ~/.vertexmcp/mcp.json.
type mcpFile struct {
	Servers []mcp.ServerConfig `json:"servers"`
}

// LoadMCPServers loads the external tool-server list from
// {homeDir}/.vertexmcp/mcp.json. A missing file yields an empty list; a
// present but unparseable file is a configuration error.
func LoadMCPServers(homeDir string) ([]mcp.ServerConfig, error) {
	path := filepath.Join(homeDir, ".vertexmcp", "mcp.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewConfigError("read " + path + ": " + err.Error())
	}

	var file mcpFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewConfigError("parse " + path + ": " + err.Error())
	}
	return file.Servers, nil
}

// SaveMCPServers writes the server list back to mcp.json, creating the
// directory when needed.
func SaveMCPServers(homeDir string, servers []mcp.ServerConfig) error {
	dir := filepath.Join(homeDir, ".vertexmcp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(mcpFile{Servers: servers}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "mcp.json"), data, 0o644)
}
