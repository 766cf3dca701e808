// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes castrilha navigation tools to an assistant via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/internal/navservice"
)

// Server wraps the MCP server with navigation tools.
type Server struct {
	mcp *server.MCPServer
	svc *navservice.Service
}

// New creates a new MCP server with all navigation tools registered.
func New(svc *navservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Castrilha",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_routes",
		mcp.WithDescription("List the saved routes available offline."),
	), s.listRoutes)

	s.mcp.AddTool(mcp.NewTool("plan_route",
		mcp.WithDescription("Ask the routing service for a route. The origin defaults to the current position. "+
			"Places are free-form addresses or \"lat,lng\" coordinates."),
		mcp.WithString("to", mcp.Required(), mcp.Description("Destination address or lat,lng")),
		mcp.WithString("from", mcp.Description("Origin address or lat,lng (empty for the current position)")),
		mcp.WithString("travel_mode", mcp.Description("driving, walking, bicycling or transit")),
		mcp.WithString("save_as", mcp.Description("Save the route under this name")),
		mcp.WithBoolean("overwrite", mcp.Description("Replace a saved route with the same name")),
	), s.planRoute)

	s.mcp.AddTool(mcp.NewTool("start_navigation",
		mcp.WithDescription("Start turn-by-turn guidance on the wearable device, either on a saved route "+
			"or towards a destination. Give exactly one of name or destination."),
		mcp.WithString("name", mcp.Description("Saved route name")),
		mcp.WithString("destination", mcp.Description("Destination address or lat,lng")),
	), s.startNavigation)

	s.mcp.AddTool(mcp.NewTool("stop_navigation",
		mcp.WithDescription("Stop the current guidance session."),
	), s.stopNavigation)

	s.mcp.AddTool(mcp.NewTool("next_instruction",
		mcp.WithDescription("Show the instruction that will be sent to the device next."),
	), s.nextInstruction)

	s.mcp.AddTool(mcp.NewTool("navigation_status",
		mcp.WithDescription("Report the guidance session, device link and connectivity state."),
	), s.navigationStatus)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError reports err with the traveler-facing message.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s (%v)", castrilha.UserMessage(err), err))
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listRoutes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	saved := s.svc.ListRoutes()
	if len(saved) == 0 {
		return mcp.NewToolResultText("no saved routes"), nil
	}
	var b strings.Builder
	for _, r := range saved {
		fmt.Fprintf(&b, "%s: %s -> %s (%d steps)\n", r.Name, r.Route.Origin, r.Route.Destination, len(r.Route.Steps()))
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) planRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := castrilha.TravelMode(req.GetString("travel_mode", ""))
	if mode != "" && !mode.IsValid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown travel mode: %s", mode)), nil
	}

	res, err := s.svc.Plan(ctx, navservice.PlanRequest{
		From:       req.GetString("from", ""),
		To:         to,
		TravelMode: mode,
		SaveAs:     req.GetString("save_as", ""),
		Overwrite:  req.GetBool("overwrite", false),
	})
	if err != nil {
		return toolError(err), nil
	}

	route := res.Route
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s\n", route.Origin, route.Destination)
	for i, step := range route.Steps() {
		fmt.Fprintf(&b, "%d. %s", i+1, step.CleanInstruction())
		if step.DistanceText != "" {
			fmt.Fprintf(&b, " (%s)", step.DistanceText)
		}
		b.WriteByte('\n')
	}
	if res.SavedAs != "" {
		fmt.Fprintf(&b, "saved as %s\n", res.SavedAs)
	}
	if res.Warning != "" {
		fmt.Fprintf(&b, "warning: %s\n", res.Warning)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) startNavigation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	route, err := s.svc.Start(ctx, navservice.StartRequest{
		Name:        req.GetString("name", ""),
		Destination: req.GetString("destination", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("navigating to %s (%d steps)", route.Destination, len(route.Steps()))), nil
}

func (s *Server) stopNavigation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.Stop(); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("navigation stopped"), nil
}

func (s *Server) nextInstruction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	next, err := s.svc.Next()
	if err != nil {
		return toolError(err), nil
	}
	text := fmt.Sprintf("step %d: %s", next.StepIndex+1, next.Text)
	if next.MetersAway > 0 {
		text += fmt.Sprintf(" in %.0f m", next.MetersAway)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) navigationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.svc.Status()
	// The route plan is large; the summary fields are enough here.
	st.Navigation.Route = nil
	return jsonResult(st), nil
}
