package protocol

// DefaultDefinitions is the client packet table installed at startup.
// Game subsystems may register additional opcodes afterwards.
var DefaultDefinitions = []PacketDefinition{
	{0x00, 104, "Create Character"},
	{0x01, 5, "Disconnect Notification"},
	{0x02, 7, "Move Request"},
	{0x03, VariableLength, "Talk Request"},
	{0x04, 2, "Request God Mode"},
	{0x05, 5, "Request Attack"},
	{0x06, 5, "Double Click"},
	{0x07, 7, "Pick Up Item"},
	{0x08, 15, "Drop Item"},
	{0x09, 5, "Single Click"},
	{0x0A, 11, "Edit"},
	{0x0B, 7, "Damage"},
	{0x0C, VariableLength, "Edit Tile Data"},
	{0x11, VariableLength, "Status Bar Info"},
	{0x12, VariableLength, "Request Skill Use"},
	{0x13, 10, "Drop Wear Item"},
	{0x14, 6, "Send Elevation"},
	{0x15, 9, "Follow"},
	{0x16, VariableLength, "New Health Bar Status"},
	{0x17, VariableLength, "Health Bar Status Update"},
	{0x1A, VariableLength, "World Item"},
	{0x1B, 37, "Char Locale and Body"},
	{0x1C, VariableLength, "Send Speech"},
	{0x1D, 5, "Delete Object"},
	{0x1F, 8, "Explosion"},
	{0x20, 19, "Draw Game Player"},
	{0x21, 8, "Char Move Rejection"},
	{0x22, 3, "Character Move ACK"},
	{0x23, 26, "Dragging of Item"},
	{0x24, 7, "Draw Container"},
	{0x25, 21, "Add Item to Container"},
	{0x26, 5, "Kick Player"},
	{0x27, 2, "Reject Move Item Request"},
	{0x28, 5, "Drop Item Failed"},
	{0x29, 1, "Drop Item Approved"},
	{0x2A, 5, "Blood"},
	{0x2B, 2, "God Mode"},
	{0x2C, 2, "Resurrection Menu"},
	{0x2D, 17, "Mob Attributes"},
	{0x2E, 15, "Worn Item"},
	{0x2F, 10, "Fight Occurring"},
	{0x30, 5, "Attack OK"},
	{0x32, 2, "Toggle Hack Mover"},
	{0x33, 2, "Pause Client"},
	{0x34, 10, "Get Player Status"},
	{0x38, 7, "Pathfinding in Client"},
	{0x39, 9, "Remove Group"},
	{0x3A, VariableLength, "Send Skills"},
	{0x3B, VariableLength, "Buy Items"},
	{0x3C, VariableLength, "Add Multiple Items in Container"},
	{0x3F, VariableLength, "Update Statics"},
	{0x45, 5, "Version OK"},
	{0x4E, 6, "Personal Light Level"},
	{0x4F, 2, "Overall Light Level"},
	{0x53, 2, "Reject Character Logon"},
	{0x54, 12, "Play Sound Effect"},
	{0x55, 1, "Login Complete"},
	{0x56, 11, "Map Packet"},
	{0x5B, 4, "Time"},
	{0x5D, 73, "Login Character"},
	{0x65, 4, "Set Weather"},
	{0x66, VariableLength, "Books (Pages)"},
	{0x69, VariableLength, "Change Text/Emote Colors"},
	{0x6C, 19, "Target Cursor Commands"},
	{0x6D, 3, "Play Midi Music"},
	{0x6E, 14, "Character Animation"},
	{0x6F, VariableLength, "Secure Trading"},
	{0x70, 28, "Graphical Effect"},
	{0x71, VariableLength, "Bulletin Board Messages"},
	{0x72, 5, "Request War Mode"},
	{0x73, 2, "Ping"},
	{0x74, VariableLength, "Open Buy Window"},
	{0x75, 35, "Rename Character"},
	{0x76, 16, "New Subserver"},
	{0x77, 17, "Update Player"},
	{0x78, VariableLength, "Draw Object"},
	{0x7C, VariableLength, "Open Dialog Box"},
	{0x7D, 13, "Response To Dialog Box"},
	{0x80, 62, "Login Request"},
	{0x82, 2, "Login Denied"},
	{0x83, 39, "Delete Character"},
	{0x85, 2, "Character Delete Result"},
	{0x86, VariableLength, "Resend Characters After Delete"},
	{0x88, 66, "Open Paperdoll"},
	{0x89, VariableLength, "Corpse Clothing"},
	{0x8C, 11, "Connect To Game Server"},
	{0x90, 19, "Map Message"},
	{0x91, 65, "Game Server Login"},
	{0x93, 99, "Book Header (Old)"},
	{0x95, 9, "Dye Window"},
	{0x97, 2, "Move Player"},
	{0x98, VariableLength, "All Names"},
	{0x99, 30, "Give Boat/House Placement View"},
	{0x9A, VariableLength, "Console Entry Prompt"},
	{0x9B, 258, "Request Help"},
	{0x9E, VariableLength, "Sell List"},
	{0x9F, VariableLength, "Sell List Reply"},
	{0xA0, 3, "Select Server"},
	{0xA1, 9, "Update Current Health"},
	{0xA2, 9, "Update Current Mana"},
	{0xA3, 9, "Update Current Stamina"},
	{0xA4, 149, "Client Spy"},
	{0xA5, VariableLength, "Open Web Browser"},
	{0xA6, VariableLength, "Tip/Notice Window"},
	{0xA7, 4, "Request Tip/Notice Window"},
	{0xA8, VariableLength, "Game Server List"},
	{0xA9, VariableLength, "Characters / Starting Locations"},
	{0xAA, 5, "Allow/Refuse Attack"},
	{0xAB, VariableLength, "Gump Text Entry Dialog"},
	{0xAC, VariableLength, "Gump Text Entry Dialog Reply"},
	{0xAD, VariableLength, "Unicode/Ascii Speech Request"},
	{0xAE, VariableLength, "Unicode Speech Message"},
	{0xAF, 13, "Display Death Action"},
	{0xB0, VariableLength, "Send Gump Menu Dialog"},
	{0xB1, VariableLength, "Gump Menu Selection"},
	{0xB2, VariableLength, "Chat Message"},
	{0xB3, VariableLength, "Chat Text"},
	{0xB5, 64, "Open Chat Window"},
	{0xB6, 9, "Send Help/Tip Request"},
	{0xB7, VariableLength, "Help/Tip Data"},
	{0xB8, VariableLength, "Request/Char Profile"},
	{0xB9, 5, "Enable Locked Client Features"},
	{0xBA, 10, "Quest Arrow"},
	{0xBB, 9, "Ultima Messenger"},
	{0xBC, 3, "Seasonal Information"},
	{0xBD, VariableLength, "Client Version"},
	{0xBE, VariableLength, "Assist Version"},
	{0xBF, VariableLength, "General Information"},
	{0xC0, 36, "Graphical Effect (Hued)"},
	{0xC1, VariableLength, "Cliloc Message"},
	{0xC2, VariableLength, "Unicode TextEntry"},
	{0xC4, 6, "Semivisible"},
	{0xC8, 2, "Client View Range"},
	{0xCC, VariableLength, "Cliloc Message Affix"},
	{0xD1, 2, "Logout Status"},
	{0xD4, VariableLength, "New Book Header"},
	{0xD6, VariableLength, "Mega Cliloc"},
	{0xD7, VariableLength, "Generic AOS Commands"},
	{0xD9, 268, "Spy On Client"},
	{0xDC, 9, "SE Introduced Revision"},
	{0xDD, VariableLength, "Compressed Gump"},
	{0xE1, VariableLength, "Update Mobile Status"},
	{0xEF, 21, "Login Seed"},
	{0xF0, VariableLength, "Krrios Client Special"},
	{0xF3, 26, "Object Information"},
	{0xF8, 106, "Character Creation (7.0.16.0)"},
}

// RegisterDefaults installs DefaultDefinitions into r and returns how many
// were newly registered.
func RegisterDefaults(r *Registry) int {
	added := 0
	for _, def := range DefaultDefinitions {
		if r.Register(def.OpCode, def.Length, def.Description) {
			added++
		}
	}
	r.logger.Info().
		Int("registered", added).
		Int("total", r.Count()).
		Msg("default packet definitions loaded")
	return added
}
