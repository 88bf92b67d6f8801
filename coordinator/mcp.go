package coordinator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/JuhyeokC/whit/bus"
	"github.com/JuhyeokC/whit/capture"
)

// RegisterMCP exposes the panel-facing operations as MCP tools, so external
// panels and agents can drive the coordinator without linking against it.
func (c *Coordinator) RegisterMCP(srv *mcp.Server) {
	c.registerLatestTool(srv)
	c.registerAnalyzeTool(srv)
	c.registerHistoryTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, run func(ctx context.Context, req *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		out, err := run(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- latest image ---

type latestReq struct{}

type latestResp struct {
	OK        bool   `json:"ok"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	ImageB64  string `json:"imageBase64,omitempty"`
}

func (c *Coordinator) registerLatestTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "whit_get_latest_image",
		Description: "Fetch the most recent captured region as base64 PNG.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ *latestReq) (any, error) {
		img, err := c.store.Latest(ctx)
		if err != nil {
			return nil, err
		}
		if img == nil {
			return latestResp{OK: false}, nil
		}
		return latestResp{
			OK:        true,
			CreatedAt: img.CreatedAt.UnixMilli(),
			ImageB64:  base64.StdEncoding.EncodeToString(img.ImageData),
		}, nil
	})
}

// --- analyze ---

type analyzeToolReq struct {
	ImageBase64 string `json:"imageBase64"`
	Tone        string `json:"tone"`
	Prompt      string `json:"prompt"`
}

func (c *Coordinator) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "whit_analyze",
		Description: "Analyze an image (base64) through the cached visual-analysis pipeline. Omit imageBase64 to analyze the latest capture.",
		InputSchema: inputSchema(map[string]any{
			"imageBase64": map[string]any{"type": "string", "description": "Image to analyze; defaults to the latest capture"},
			"tone":        map[string]any{"type": "string", "description": "simple | detail | fun"},
			"prompt":      map[string]any{"type": "string", "description": "Custom prompt overriding the tone template"},
		}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, r *analyzeToolReq) (any, error) {
		var image []byte
		if r.ImageBase64 != "" {
			var err error
			image, err = base64.StdEncoding.DecodeString(r.ImageBase64)
			if err != nil {
				return nil, fmt.Errorf("decode imageBase64: %w", err)
			}
		} else {
			latest, err := c.store.Latest(ctx)
			if err != nil {
				return nil, err
			}
			if latest == nil {
				return nil, errors.New("no capture available")
			}
			// Large captures are downscaled before they hit the backend,
			// the same way the panel prepares images.
			image, err = capture.CompressForAnalysis(latest.ImageData)
			if err != nil {
				image = latest.ImageData
			}
		}

		reply, err := c.handleAnalyze(ctx, bus.AnalyzeRequest{
			ImageData:  image,
			PromptText: r.Prompt,
			Tone:       r.Tone,
		})
		if err != nil {
			return nil, err
		}
		return reply, nil
	})
}

// --- history ---

type historyToolReq struct{}

func (c *Coordinator) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "whit_history",
		Description: "List saved analysis results, newest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ *historyToolReq) (any, error) {
		return c.handleGetHistory(ctx, bus.GetHistory{})
	})
}
