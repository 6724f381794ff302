package protocol

type MessageType uint16

const (
	TypeError           MessageType = 1
	TypeUserMessage     MessageType = 2
	TypeAssistantMsg    MessageType = 3
	TypeToolUseRequest  MessageType = 6
	TypeToolUseResult   MessageType = 7
	TypeAck             MessageType = 8
	TypeStartAnswer     MessageType = 13
	TypeMemoryTrace     MessageType = 14
	TypeThinkingSummary MessageType = 34
	TypeTitleUpdate     MessageType = 35
	TypeStatusUpdate    MessageType = 44
	TypeQueueAck        MessageType = 45
	TypeHeartbeat       MessageType = 72
)

type Error struct {
	Code           string `msgpack:"code" json:"code"`
	Message        string `msgpack:"message" json:"message"`
	MessageID      string `msgpack:"messageId,omitempty" json:"messageId,omitempty"`
	ConversationID string `msgpack:"conversationId,omitempty" json:"conversationId,omitempty"`
}

type UserMessage struct {
	ID             string `msgpack:"id" json:"id"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Content        string `msgpack:"content" json:"content"`
	Priority       int    `msgpack:"priority,omitempty" json:"priority,omitempty"`
}

type AssistantMessage struct {
	ID             string `msgpack:"id" json:"id"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Content        string `msgpack:"content" json:"content"`
	Timestamp      int64  `msgpack:"timestamp,omitempty" json:"timestamp,omitempty"`
}

type StartAnswer struct {
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
}

type ToolUseRequest struct {
	ID             string         `msgpack:"id" json:"id"`
	MessageID      string         `msgpack:"messageId" json:"messageId"`
	ConversationID string         `msgpack:"conversationId" json:"conversationId"`
	ToolName       string         `msgpack:"toolName" json:"toolName"`
	Arguments      map[string]any `msgpack:"arguments" json:"arguments"`
}

type ToolUseResult struct {
	ID             string `msgpack:"id" json:"id"`
	RequestID      string `msgpack:"requestId" json:"requestId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Success        bool   `msgpack:"success" json:"success"`
	Result         any    `msgpack:"result,omitempty" json:"result,omitempty"`
	Error          string `msgpack:"error,omitempty" json:"error,omitempty"`
}

type MemoryTrace struct {
	ID             string  `msgpack:"id" json:"id"`
	MemoryID       string  `msgpack:"memoryId" json:"memoryId"`
	MessageID      string  `msgpack:"messageId" json:"messageId"`
	ConversationID string  `msgpack:"conversationId" json:"conversationId"`
	Content        string  `msgpack:"content" json:"content"`
	Relevance      float32 `msgpack:"relevance" json:"relevance"`
}

type ThinkingSummary struct {
	ID             string `msgpack:"id" json:"id"`
	MessageID      string `msgpack:"messageId" json:"messageId"`
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Content        string `msgpack:"content" json:"content"`
}

type TitleUpdate struct {
	ConversationID string `msgpack:"conversationId" json:"conversationId"`
	Title          string `msgpack:"title" json:"title"`
}

// StatusUpdate mirrors the degradation manager's read-only surface so
// dashboards subscribed over the transport see mode changes live.
type StatusUpdate struct {
	Mode        string `msgpack:"mode" json:"mode"`
	IsAvailable bool   `msgpack:"isAvailable" json:"isAvailable"`
	CanSend     bool   `msgpack:"canSend" json:"canSend"`
	CanReceive  bool   `msgpack:"canReceive" json:"canReceive"`
	QueuedCount int    `msgpack:"queuedCount" json:"queuedCount"`
	Reason      string `msgpack:"reason,omitempty" json:"reason,omitempty"`

	LatencyMs   int64   `msgpack:"latencyMs" json:"latencyMs"`
	SuccessRate float64 `msgpack:"successRate" json:"successRate"`
	ErrorCount  int     `msgpack:"errorCount" json:"errorCount"`
	// LastSuccess is the unix-milli timestamp of the last successful
	// connection or round trip; zero when there has been none.
	LastSuccess int64 `msgpack:"lastSuccess,omitempty" json:"lastSuccess,omitempty"`
}

// QueueAck reports the fate of a previously queued outbound message.
type QueueAck struct {
	MessageID string `msgpack:"messageId" json:"messageId"`
	Delivered bool   `msgpack:"delivered" json:"delivered"`
	Attempts  int    `msgpack:"attempts" json:"attempts"`
	Error     string `msgpack:"error,omitempty" json:"error,omitempty"`
}
