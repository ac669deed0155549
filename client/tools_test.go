package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/protocol"
)

func TestListAllToolsFollowsCursors(t *testing.T) {
	pages := map[string]protocol.ListToolsResult{
		"": {
			Tools:      []protocol.Tool{{Name: "status"}, {Name: "log"}},
			NextCursor: "page2",
		},
		"page2": {
			Tools: []protocol.Tool{{Name: "diff"}},
		},
	}
	c, _, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method != protocol.MethodListTools {
			return
		}
		var params protocol.ListToolsParams
		_ = json.Unmarshal(msg.Params, &params)
		f.reply(msg, pages[params.Cursor])
	})

	tools, err := c.ListAllTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "status", tools[0].Name)
	assert.Equal(t, "log", tools[1].Name)
	assert.Equal(t, "diff", tools[2].Name)
}

func TestCallToolDecodesResult(t *testing.T) {
	c, fake, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method != protocol.MethodCallTool {
			return
		}
		f.reply(msg, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "on branch main"},
			},
			"isError": false,
		})
	})

	result, err := c.CallTool(context.Background(), "status", map[string]interface{}{"verbose": true})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "on branch main", result.TextOf())

	// The request carried name and arguments unchanged.
	var sent *protocol.Message
	for _, m := range fake.sentMessages() {
		if m.Method == protocol.MethodCallTool {
			sent = m
		}
	}
	require.NotNil(t, sent)
	var params protocol.CallToolParams
	require.NoError(t, json.Unmarshal(sent.Params, &params))
	assert.Equal(t, "status", params.Name)
	assert.Equal(t, true, params.Arguments["verbose"])
}

func TestCallToolErrorResultIsDataNotError(t *testing.T) {
	c, _, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method != protocol.MethodCallTool {
			return
		}
		f.reply(msg, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "fatal: not a git repository"},
			},
			"isError": true,
		})
	})

	result, err := c.CallTool(context.Background(), "status", nil)
	require.NoError(t, err, "a tool-level failure is a result, not a protocol error")
	assert.True(t, result.IsError)
	assert.Contains(t, result.TextOf(), "not a git repository")
}

func TestCallToolWithProgress(t *testing.T) {
	c, _, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method != protocol.MethodCallTool {
			return
		}
		var params protocol.CallToolParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.Meta == nil {
			f.replyError(msg, protocol.ErrorCodeInvalidParams, "missing progress token")
			return
		}
		token := params.Meta.ProgressToken
		for _, p := range []float64{0.25, 0.75} {
			notif, err := protocol.NewNotification(protocol.MethodNotifyProgress, protocol.ProgressParams{
				ProgressToken: token,
				Progress:      p,
			})
			if err != nil {
				panic(err)
			}
			f.push(notif)
		}
		f.reply(msg, map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "done"}},
		})
	})

	var mu sync.Mutex
	var seen []float64
	result, err := c.CallToolWithProgress(context.Background(), "clone", nil, func(p protocol.ProgressParams) {
		mu.Lock()
		seen = append(seen, p.Progress)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.TextOf())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []float64{0.25, 0.75}, seen)
	mu.Unlock()

	// The handler registration is cleaned up after the call.
	c.mu.Lock()
	assert.Empty(t, c.onProgress)
	c.mu.Unlock()
}

func TestProgressWithoutHandlerGoesToObserver(t *testing.T) {
	c, fake, obs := newReadyClient(t, nil)

	notif, err := protocol.NewNotification(protocol.MethodNotifyProgress, protocol.ProgressParams{
		ProgressToken: "nobody-registered-this",
		Progress:      0.5,
	})
	require.NoError(t, err)
	fake.push(notif)

	require.Eventually(t, func() bool {
		methods := obs.methods()
		return len(methods) == 1 && methods[0] == protocol.MethodNotifyProgress
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateReady, c.State())
}

func TestListResourcesAndRead(t *testing.T) {
	c, _, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		switch msg.Method {
		case protocol.MethodListResources:
			f.reply(msg, protocol.ListResourcesResult{
				Resources: []protocol.Resource{
					{URI: "file:///README.md", Name: "readme", MimeType: "text/markdown"},
				},
			})
		case protocol.MethodReadResource:
			var params protocol.ReadResourceParams
			_ = json.Unmarshal(msg.Params, &params)
			f.reply(msg, protocol.ReadResourceResult{
				Contents: []protocol.ResourceContents{
					{URI: params.URI, MimeType: "text/markdown", Text: "# hello"},
				},
			})
		}
	})

	resources, err := c.ListAllResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "file:///README.md", resources[0].URI)

	read, err := c.ReadResource(context.Background(), resources[0].URI)
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "# hello", read.Contents[0].Text)
	assert.Equal(t, "file:///README.md", read.Contents[0].URI)
}
