package satellite

import "github.com/beeper/groundstation-gateway/internal/protocol"

type fieldDefinition struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type commandDefinition struct {
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
	Fields      []fieldDefinition `json:"fields"`
}

type definitionsUpdate struct {
	Type               string `json:"type"`
	CommandDefinitions struct {
		System      string                       `json:"system"`
		Definitions map[string]commandDefinition `json:"definitions"`
	} `json:"command_definitions"`
}

func (definitionsUpdate) UpdateType() string { return protocol.TypeCommandDefinitionsUpdate }

var definitions = map[string]commandDefinition{
	"ping": {
		DisplayName: "Ping",
		Description: "Checks that the satellite is responsive",
		Fields:      []fieldDefinition{},
	},
	"connect": {
		DisplayName: "Connect",
		Description: "Prepares the ground station and synchronizes the carrier with the satellite",
		Fields:      []fieldDefinition{},
	},
	"telemetry": {
		DisplayName: "Start Telemetry",
		Description: "Streams housekeeping telemetry for three minutes",
		Fields:      []fieldDefinition{},
	},
	"safemode": {
		DisplayName: "Safemode",
		Description: "Pauses telemetry generation",
		Fields:      []fieldDefinition{},
	},
	"update_file_list": {
		DisplayName: "Update File List",
		Description: "Lists the files available for downlink",
		Fields:      []fieldDefinition{},
	},
	"uplink_file": {
		DisplayName: "Uplink File",
		Description: "Sends a staged file to the satellite",
		Fields:      []fieldDefinition{{Name: "gateway_download_path", Type: "string"}},
	},
	"downlink_file": {
		DisplayName: "Downlink File",
		Description: "Retrieves a file from the satellite",
		Fields:      []fieldDefinition{{Name: "filename", Type: "string"}},
	},
}

func newDefinitionsUpdate(system string) definitionsUpdate {
	u := definitionsUpdate{Type: protocol.TypeCommandDefinitionsUpdate}
	u.CommandDefinitions.System = system
	u.CommandDefinitions.Definitions = definitions
	return u
}
