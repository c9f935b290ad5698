package provider

// Defaults is the descriptor table used when the configuration does not provide one.
var Defaults = []Descriptor{ //nolint:gochecknoglobals // configuration defaults
	{
		ID:               "yours",
		DisplayName:      "Yours Wallet",
		Priority:         1,
		DetectionMethods: []DetectionMethod{Direct, Enumeration, Event},
		Path:             "yours",
		Methods:          []string{"connect", "isReady"},
		Keywords:         []string{"yours"},
		ReadyEvents:      []string{"yours#initialized"},
		ConnectMethod:    "connect",
		DisconnectMethod: "disconnect",
		Shape:            ShapeAddress,
		Network:          "mainnet",
	},
	{
		ID:               "panda",
		DisplayName:      "Panda Wallet",
		Priority:         2,
		DetectionMethods: []DetectionMethod{Direct, Enumeration, Event},
		Path:             "panda",
		Methods:          []string{"connect"},
		Keywords:         []string{"panda"},
		ReadyEvents:      []string{"panda#initialized"},
		ConnectMethod:    "connect",
		DisconnectMethod: "disconnect",
		Shape:            ShapeAddresses,
		Network:          "mainnet",
	},
	{
		ID:               "relayx",
		DisplayName:      "RelayX",
		Priority:         3,
		DetectionMethods: []DetectionMethod{Direct, Enumeration},
		Path:             "relayone",
		Methods:          []string{"authBeta"},
		Keywords:         []string{"relayone", "relayx"},
		ConnectMethod:    "authBeta",
		Shape:            ShapeString,
		Network:          "mainnet",
	},
	{
		ID:               "metamask",
		DisplayName:      "MetaMask",
		Priority:         4,
		DetectionMethods: []DetectionMethod{Direct, Event},
		Path:             "ethereum",
		Methods:          []string{"request"},
		ReadyEvents:      []string{"ethereum#initialized"},
		ConnectMethod:    "request",
		ConnectArgs:      []interface{}{map[string]interface{}{"method": "eth_requestAccounts"}},
		Shape:            ShapeAccounts,
		Network:          "ethereum",
	},
}

// LifecycleEvents are page lifecycle transitions that force an extra detection pass.
var LifecycleEvents = []string{"DOMContentLoaded", "load"} //nolint:gochecknoglobals // static table
