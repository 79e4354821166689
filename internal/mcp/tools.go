package mcp

import "github.com/mark3labs/mcp-go/mcp"

var historyToolDef = mcp.NewTool("drops_history",
	mcp.WithDescription("List recorded drops, newest first. Each record carries the item text (\"<N> x <Name>\"), the time it was seen and the boss context at the time."),
	mcp.WithNumber("limit", mcp.Description("Maximum records to return (default 50, 0 for all)")),
)

var totalsToolDef = mcp.NewTool("drops_totals",
	mcp.WithDescription("Aggregate recorded drops by item name, summing quantities. Sorted by item name."),
)

var getToolDef = mcp.NewTool("drops_get",
	mcp.WithDescription("Fetch one recorded drop by ID."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record ID (ULID)")),
)

var bossToolDef = mcp.NewTool("drops_boss",
	mcp.WithDescription("Show the boss currently being tracked and its kill count. \"N/A\" means none."),
)

var modeToolDef = mcp.NewTool("drops_mode",
	mcp.WithDescription("Get or set the display/export mode. Without a mode argument the current mode is toggled."),
	mcp.WithString("mode", mcp.Enum("history", "total"), mcp.Description("Mode to set")),
)

var exportToolDef = mcp.NewTool("drops_export",
	mcp.WithDescription("Export the drop log to a CSV file. History mode writes Item,Time rows; total mode writes Qty,Item rows."),
	mcp.WithString("mode", mcp.Enum("history", "total"), mcp.Description("Export mode (default: the stored mode)")),
	mcp.WithString("path", mcp.Description("Destination .csv path (default: the exports directory)")),
)

var resetToolDef = mcp.NewTool("drops_reset",
	mcp.WithDescription("Delete every recorded drop. Mode and source selection are kept. Requires confirm=true."),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
)

var classifyToolDef = mcp.NewTool("drops_classify",
	mcp.WithDescription("Classify a single chat line the way the tracker would, without recording anything."),
	mcp.WithString("line", mcp.Required(), mcp.Description("Chat line, e.g. \"[08:15:30] You receive 10 x Rune essence\"")),
)
