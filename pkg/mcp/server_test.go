package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCanvasServer(t *testing.T) {
	s := NewCanvasServer(CanvasServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewCanvasServer(CanvasServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 9)

	expectedTools := []string{
		"syncanvas.import",
		"syncanvas.export",
		"syncanvas.node",
		"syncanvas.connect",
		"syncanvas.disconnect",
		"syncanvas.move",
		"syncanvas.history",
		"syncanvas.query",
		"syncanvas.render",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}
