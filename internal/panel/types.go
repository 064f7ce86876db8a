// Package panel runs the finite discussion engine: a Head clarifies and
// synthesizes, a Moderator arbitrates turns, and Panelists argue until
// the discussion converges.
package panel

import "time"

// Role identifies the agent kind that authored a message.
type Role string

const (
	RoleHead      Role = "head"
	RoleModerator Role = "moderator"
	RolePanelist  Role = "panelist"
)

// MessageType classifies transcript entries.
type MessageType string

const (
	TypeUserMessage       MessageType = "user_message"
	TypeClarification     MessageType = "clarification"
	TypeTopicOfDiscussion MessageType = "topic_of_discussion"
	TypePanelistArgument  MessageType = "panelist_argument"
	TypeModerationNote    MessageType = "moderation_note"
	TypeSynthesis         MessageType = "synthesis"
)

// Message is one transcript entry. AuthorID zero means the user.
type Message struct {
	SessionID  string      `json:"session_id"`
	AuthorID   int         `json:"author_id"`
	AuthorName string      `json:"author_name"`
	AuthorRole Role        `json:"author_role,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	InReplyTo  int         `json:"in_reply_to,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// KnowledgeBrief is the compact post-discussion artifact. It is generated
// once at Completed and reused for follow-up questions without replaying
// the transcript.
type KnowledgeBrief struct {
	Summary         string   `json:"summary"`
	KeyArguments    []string `json:"key_arguments"`
	ConsensusPoints []string `json:"consensus_points"`
	DissentingViews []string `json:"dissenting_views"`
	Recommendations []string `json:"recommendations"`
}
