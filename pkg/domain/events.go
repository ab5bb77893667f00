package domain

// Event is the name of a frame pushed from the hub to clients
type Event string

// Events pushed to clients
const (
	EventRegistered              Event = "Registered"
	EventUserList                Event = "UserList"
	EventUserConnected           Event = "UserConnected"
	EventUserDisconnected        Event = "UserDisconnected"
	EventReceiveMessage          Event = "ReceiveMessage"
	EventReceiveSticker          Event = "ReceiveSticker"
	EventReceiveChannelMessage   Event = "ReceiveChannelMessage"
	EventReceiveChannelSticker   Event = "ReceiveChannelSticker"
	EventReceiveDirectMessage    Event = "ReceiveDirectMessage"
	EventReceiveDirectAttachment Event = "ReceiveDirectAttachment"
	EventDirectHistory           Event = "DirectHistory"
	EventChannelHistory          Event = "ChannelHistory"
	EventMessageDeleted          Event = "MessageDeleted"
	EventUserTyping              Event = "UserTyping"
	EventUserStopTyping          Event = "UserStopTyping"
	EventError                   Event = "Error"
)

// Guild lifecycle events originate from the guild-management collaborator
// and are routed through the guild group untouched.
const (
	EventGuildChannelCreated     Event = "GuildChannelCreated"
	EventGuildChannelUpdated     Event = "GuildChannelUpdated"
	EventGuildChannelDeleted     Event = "GuildChannelDeleted"
	EventGuildMemberJoined       Event = "GuildMemberJoined"
	EventGuildMemberRemoved      Event = "GuildMemberRemoved"
	EventGuildMemberRoleUpdated  Event = "GuildMemberRoleUpdated"
	EventChannelMemberJoined     Event = "ChannelMemberJoined"
	EventGuildInvitationReceived Event = "GuildInvitationReceived"
	EventGuildInvitationAccepted Event = "GuildInvitationAccepted"
)

var guildEvents = map[Event]struct{}{
	EventGuildChannelCreated:    {},
	EventGuildChannelUpdated:    {},
	EventGuildChannelDeleted:    {},
	EventGuildMemberJoined:      {},
	EventGuildMemberRemoved:     {},
	EventGuildMemberRoleUpdated: {},
	EventChannelMemberJoined:    {},
}

var userEvents = map[Event]struct{}{
	EventGuildInvitationReceived: {},
	EventGuildInvitationAccepted: {},
}

// IsGuildEvent reports whether e may be published to a guild group
func IsGuildEvent(e Event) bool {
	_, ok := guildEvents[e]
	return ok
}

// IsUserEvent reports whether e may be pushed to a single user's connections
func IsUserEvent(e Event) bool {
	_, ok := userEvents[e]
	return ok
}

// Operation is the name of a frame a client sends to the hub
type Operation string

// Operations invocable by a connected client
const (
	OpRegisterUser         Operation = "RegisterUser"
	OpJoinChannel          Operation = "JoinChannel"
	OpLeaveChannel         Operation = "LeaveChannel"
	OpJoinGuildGroup       Operation = "JoinGuildGroup"
	OpSendMessage          Operation = "SendMessage"
	OpSendSticker          Operation = "SendSticker"
	OpSendChannelMessage   Operation = "SendChannelMessage"
	OpSendChannelSticker   Operation = "SendChannelSticker"
	OpSendDirectMessage    Operation = "SendDirectMessage"
	OpSendDirectAttachment Operation = "SendDirectAttachment"
	OpOpenDirectChannel    Operation = "OpenDirectChannel"
	OpLoadChannelHistory   Operation = "LoadChannelHistory"
	OpDeleteMessage        Operation = "DeleteMessage"
	OpTyping               Operation = "Typing"
	OpStopTyping           Operation = "StopTyping"
)
