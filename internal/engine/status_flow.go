package engine

// StatusFlow lists the transitions a session may take. The cycle is
// LOBBY -> PLAYING -> LOBBY, LOBBY being both initial and post-reset.
var StatusFlow = map[Status][]Status{
	StatusLobby:   {StatusPlaying},
	StatusPlaying: {StatusLobby},
}

func canTransition(from, to Status) bool {
	for _, next := range StatusFlow[from] {
		if next == to {
			return true
		}
	}
	return false
}
