// internal/party/convert.go

// Conversions between the directory's wire representation and the local
// mirror. The directory stores everything as string properties, so the enum
// fields and edit stamps ride along as numeric strings under well-known keys.
package party

import (
	"strconv"

	"github.com/blockfriends/partylink/internal/directory"
)

// Session data keys.
const (
	KeyRelayJoinCode     = "RelayJoinCode"
	KeyRelayTransportCode = "RelayTransportCode"
	KeyState             = "State"
	KeyColor             = "Color"

	KeyStateLastEdit         = "State_LastEdit"
	KeyColorLastEdit         = "Color_LastEdit"
	KeyTransportCodeLastEdit = "RelayTransportCode_LastEdit"
)

// Player data keys.
const (
	KeyDisplayName = "DisplayName"
	KeyStatus      = "Status"
	KeySeat        = "Seat"
	KeyEmote       = "Emote"
)

// RemoteDescription maps a wire session onto a Description.
func RemoteDescription(s *directory.Session) Description {
	d := Description{
		ID:         s.ID,
		Code:       s.Code,
		Name:       s.Name,
		Private:    s.Private,
		MaxPlayers: s.MaxPlayers,
		State:      StateLobby,
	}
	get := func(key string) string {
		if s.Data == nil {
			return ""
		}
		return s.Data[key].Value
	}
	d.RelayJoinCode = get(KeyRelayJoinCode)
	d.RelayTransportCode = get(KeyRelayTransportCode)
	if v, err := strconv.Atoi(get(KeyState)); err == nil && v != 0 {
		d.State = LobbyState(v)
	}
	if v, err := strconv.Atoi(get(KeyColor)); err == nil {
		d.Color = Color(v)
	}
	d.StateLastEdit, _ = strconv.ParseInt(get(KeyStateLastEdit), 10, 64)
	d.ColorLastEdit, _ = strconv.ParseInt(get(KeyColorLastEdit), 10, 64)
	d.TransportCodeLastEdit, _ = strconv.ParseInt(get(KeyTransportCodeLastEdit), 10, 64)
	return d
}

// RemotePlayers maps a wire session's member list onto PlayerData keyed by
// player id. Host status comes from the session's HostID, not member data.
func RemotePlayers(s *directory.Session) map[string]PlayerData {
	players := make(map[string]PlayerData, len(s.Players))
	for _, p := range s.Players {
		data := PlayerData{
			ID:          p.ID,
			DisplayName: p.Data[KeyDisplayName],
			IsHost:      p.ID == s.HostID,
		}
		if v, err := strconv.Atoi(p.Data[KeyStatus]); err == nil {
			data.Status = PlayerStatus(v)
		}
		if v, err := strconv.Atoi(p.Data[KeySeat]); err == nil {
			data.Seat = Seat(v)
		}
		if v, err := strconv.Atoi(p.Data[KeyEmote]); err == nil {
			data.Emote = Emote(v)
		}
		players[p.ID] = data
	}
	return players
}

// ApplySession reconciles a pulled wire session into the mirror.
func ApplySession(s *directory.Session, into *LocalLobby) {
	if s == nil {
		return
	}
	into.ApplyRemote(RemoteDescription(s), RemotePlayers(s))
}

// LobbyProperties flattens the lobby-level mutable fields (and their edit
// stamps) for a session data push. The color tag is indexed so queries can
// filter on it; everything here is public so unjoined players can see it in
// the lobby list.
func LobbyProperties(l *LocalLobby) map[string]directory.Property {
	d := l.Data()
	pub := func(value string) directory.Property {
		return directory.Property{Value: value, Public: true}
	}
	return map[string]directory.Property{
		KeyRelayJoinCode:      pub(d.RelayJoinCode),
		KeyRelayTransportCode: pub(d.RelayTransportCode),
		KeyState:              pub(strconv.Itoa(int(d.State))),
		KeyColor: {
			Value:  strconv.Itoa(int(d.Color)),
			Public: true,
			Index:  directory.ColorIndex,
		},
		KeyStateLastEdit:         pub(strconv.FormatInt(d.StateLastEdit, 10)),
		KeyColorLastEdit:         pub(strconv.FormatInt(d.ColorLastEdit, 10)),
		KeyTransportCodeLastEdit: pub(strconv.FormatInt(d.TransportCodeLastEdit, 10)),
	}
}

// PlayerProperties flattens one player's own fields for a member data push.
func PlayerProperties(p *LocalPlayer) map[string]string {
	if p == nil || p.ID() == "" {
		return map[string]string{}
	}
	return map[string]string{
		KeyDisplayName: p.DisplayName(),
		KeyStatus:      strconv.Itoa(int(p.Status())),
		KeySeat:        strconv.Itoa(int(p.Seat())),
		KeyEmote:       strconv.Itoa(int(p.Emote())),
	}
}
