package protocol

// MessageDoc documents one inbound message type for the help catalog.
type MessageDoc struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Params      map[string]string `json:"params,omitempty"`
	Example     map[string]any    `json:"example,omitempty"`
}

// HelpCatalog is the static introspection payload returned in welcome frames
// and help_response frames. It is read-only and side-effect free.
type HelpCatalog struct {
	MessageTypes  []MessageDoc `json:"messageTypes"`
	HTTPEndpoints []string     `json:"httpEndpoints"`
}

// Help returns the catalog of supported message types and HTTP endpoints.
func Help() HelpCatalog {
	return HelpCatalog{
		MessageTypes: []MessageDoc{
			{
				Type:        TypeChat,
				Description: "Broadcast a chat message to every agent in the room.",
				Params: map[string]string{
					"content":  "message text (required)",
					"metadata": "free-form object attached to the message (optional)",
				},
				Example: map[string]any{"type": TypeChat, "content": "starting on the parser"},
			},
			{
				Type:        TypeFileLock,
				Description: "Request an exclusive lock on a file path. Re-requesting a path you already hold refreshes the lock.",
				Params: map[string]string{
					"filePath": "path to lock (required)",
					"lockType": "read, write, or create (default write)",
				},
				Example: map[string]any{"type": TypeFileLock, "filePath": "/src/main.go", "lockType": "write"},
			},
			{
				Type:        TypeFileUnlock,
				Description: "Release a lock you hold.",
				Params: map[string]string{
					"filePath": "path to unlock (required)",
				},
				Example: map[string]any{"type": TypeFileUnlock, "filePath": "/src/main.go"},
			},
			{
				Type:        TypeCreateThread,
				Description: "Create a discussion thread.",
				Params: map[string]string{
					"subject": "thread subject (required)",
				},
				Example: map[string]any{"type": TypeCreateThread, "subject": "API design"},
			},
			{
				Type:        TypeThreadReply,
				Description: "Reply within an existing thread.",
				Params: map[string]string{
					"threadId":         "target thread (required)",
					"content":          "message text (required)",
					"replyToMessageId": "message being answered (optional)",
					"metadata":         "free-form object (optional)",
				},
				Example: map[string]any{"type": TypeThreadReply, "threadId": "…", "content": "agreed"},
			},
			{
				Type:        TypeQuery,
				Description: "Read the durable history log. Query types: history, locks, agents, file_history, rooms.",
				Params: map[string]string{
					"query": "{queryType, filters: {agentId, filePath, since, limit, offset}}",
				},
				Example: map[string]any{
					"type":  TypeQuery,
					"query": map[string]any{"queryType": QueryHistory, "filters": map[string]any{"limit": 20}},
				},
			},
			{
				Type:        TypeHelp,
				Description: "Return this catalog.",
				Example:     map[string]any{"type": TypeHelp},
			},
			{
				Type:        TypePing,
				Description: "Liveness probe; answered with pong.",
				Example:     map[string]any{"type": TypePing},
			},
		},
		HTTPEndpoints: []string{
			"GET /ws?room={roomId}&agentId={id}&agentName={name}",
			"GET /rooms/{roomId}/info",
			"GET /rooms/{roomId}/history?limit=&offset=",
			"GET /rooms/{roomId}/locks",
		},
	}
}
