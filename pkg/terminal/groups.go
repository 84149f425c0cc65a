package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	searchCmds
	resultCmds
	targetCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Searching", searchCmds},
	{"Viewing results", resultCmds},
	{"Inspecting the target", targetCmds},
	{"Other commands", otherCmds},
}
