package packet

import "fmt"

// Message type identifiers, grouped by band:
//
//	0x0001-0x00FF system
//	0x0100-0x01FF auth
//	0x0200-0x02FF entity management
//	0x0300-0x03FF world / scene
//	0x0400-0x04FF room / battle (0x0450-0x045F match)
//	0x0500-0x05FF social
//	0x0600-0x06FF inventory
//	0x0700-0x07FF quest / achievement
const (
	MsgHeartbeat uint16 = 0x0001
	MsgError     uint16 = 0x0002

	MsgLogin     uint16 = 0x0100
	MsgRegister  uint16 = 0x0101
	MsgLogout    uint16 = 0x0102
	MsgReconnect uint16 = 0x0103

	MsgGetPlayerList uint16 = 0x0200
	MsgCreatePlayer  uint16 = 0x0201
	MsgSelectPlayer  uint16 = 0x0202
	MsgDeletePlayer  uint16 = 0x0203

	MsgEnterScene     uint16 = 0x0300
	MsgLeaveScene     uint16 = 0x0301
	MsgMove           uint16 = 0x0302
	MsgPlayerMove     uint16 = 0x0303 // S2C
	MsgPlayerEnterAOI uint16 = 0x0304 // S2C
	MsgPlayerLeaveAOI uint16 = 0x0305 // S2C
	MsgAOIPlayers     uint16 = 0x0306 // S2C

	MsgCreateRoom      uint16 = 0x0400
	MsgGetRoomList     uint16 = 0x0401
	MsgJoinRoom        uint16 = 0x0402
	MsgLeaveRoom       uint16 = 0x0403
	MsgPlayerJoinRoom  uint16 = 0x0404 // S2C
	MsgPlayerLeaveRoom uint16 = 0x0405 // S2C
	MsgReady           uint16 = 0x0406
	MsgPlayerReady     uint16 = 0x0407 // S2C
	MsgStartGame       uint16 = 0x0408
	MsgGameStart       uint16 = 0x0409 // S2C
	MsgFrameInput      uint16 = 0x040A
	MsgFrameData       uint16 = 0x040B // S2C
	MsgGameEnd         uint16 = 0x040C // S2C

	MsgStartMatch         uint16 = 0x0450
	MsgCancelMatch        uint16 = 0x0451
	MsgMatchSuccess       uint16 = 0x0452 // S2C
	MsgMatchConfirm       uint16 = 0x0453
	MsgMatchConfirmResult uint16 = 0x0454 // S2C

	MsgChat           uint16 = 0x0500
	MsgChatMessage    uint16 = 0x0501 // S2C
	MsgGetFriendList  uint16 = 0x0510
	MsgAddFriend      uint16 = 0x0511
	MsgDeleteFriend   uint16 = 0x0512
	MsgFriendRequest  uint16 = 0x0513 // S2C
	MsgGetLeaderboard uint16 = 0x0520

	MsgGetInventory uint16 = 0x0600
	MsgUseItem      uint16 = 0x0601
	MsgDropItem     uint16 = 0x0602
	MsgEquipItem    uint16 = 0x0610
	MsgUnequipItem  uint16 = 0x0611

	MsgGetQuestList    uint16 = 0x0700
	MsgAcceptQuest     uint16 = 0x0701
	MsgCompleteQuest   uint16 = 0x0702
	MsgQuestProgress   uint16 = 0x0703 // S2C
	MsgGetAchievements uint16 = 0x0710
)

var msgNames = map[uint16]string{
	MsgHeartbeat:      "Heartbeat",
	MsgError:          "Error",
	MsgLogin:          "Login",
	MsgRegister:       "Register",
	MsgLogout:         "Logout",
	MsgReconnect:      "Reconnect",
	MsgGetPlayerList:  "GetPlayerList",
	MsgCreatePlayer:   "CreatePlayer",
	MsgSelectPlayer:   "SelectPlayer",
	MsgDeletePlayer:   "DeletePlayer",
	MsgEnterScene:     "EnterScene",
	MsgLeaveScene:     "LeaveScene",
	MsgMove:           "Move",
	MsgPlayerMove:     "PlayerMove",
	MsgPlayerEnterAOI: "PlayerEnterAOI",
	MsgPlayerLeaveAOI: "PlayerLeaveAOI",
	MsgAOIPlayers:     "AOIPlayers",
	MsgChat:           "Chat",
	MsgChatMessage:    "ChatMessage",
}

// Known reports whether t is a message type this server names.
func Known(t uint16) bool {
	_, ok := msgNames[t]
	return ok
}

// MsgName returns a readable name for logs, falling back to the hex id.
func MsgName(t uint16) string {
	if n, ok := msgNames[t]; ok {
		return n
	}
	return fmt.Sprintf("0x%04X", t)
}

// ReplayExempt reports whether t skips sequence validation. Login and
// register are the first frames of a fresh connection and may carry seq 0.
func ReplayExempt(t uint16) bool {
	return t == MsgLogin || t == MsgRegister
}
