package irc

import (
	"sort"
	"strings"
)

// nickPrefixes are the channel membership sigils a NAMES reply may carry
const nickPrefixes = "@+~&%"

// sessionState holds the per-connection derived state: channel membership
// and in-flight history batches. It is only mutated from the read loop.
type sessionState struct {
	members map[string]map[string]struct{}
	batches map[string][]Message
}

func newSessionState() *sessionState {
	return &sessionState{
		members: make(map[string]map[string]struct{}),
		batches: make(map[string][]Message),
	}
}

// snapshot returns a sorted copy of a channel's member set
func (s *sessionState) snapshot(channel string) Members {
	set := s.members[channel]
	list := make([]string, 0, len(set))
	for nick := range set {
		list = append(list, nick)
	}
	sort.Strings(list)
	return Members{Channel: channel, Members: list}
}

func (s *sessionState) channel(name string) map[string]struct{} {
	set, ok := s.members[name]
	if !ok {
		set = make(map[string]struct{})
		s.members[name] = set
	}
	return set
}

// addNames records a NAMES reply. Replies accumulate; they never reset the set.
func (s *sessionState) addNames(channel, names string) Members {
	set := s.channel(channel)
	for _, name := range strings.Fields(names) {
		nick := strings.TrimLeft(name, nickPrefixes)
		if nick != "" {
			set[nick] = struct{}{}
		}
	}
	return s.snapshot(channel)
}

func (s *sessionState) join(channel, nick string) Members {
	s.channel(channel)[nick] = struct{}{}
	return s.snapshot(channel)
}

// leave removes nick from channel. ok is false when the channel is unknown.
func (s *sessionState) leave(channel, nick string) (m Members, ok bool) {
	set, ok := s.members[channel]
	if !ok {
		return Members{}, false
	}
	delete(set, nick)
	return s.snapshot(channel), true
}

// sortedChannels returns the channels containing nick, in name order
func (s *sessionState) sortedChannels(nick string) []string {
	var names []string
	for name, set := range s.members {
		if _, ok := set[nick]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// quit removes nick from every channel, returning one snapshot per channel it left
func (s *sessionState) quit(nick string) []Members {
	var changed []Members
	for _, name := range s.sortedChannels(nick) {
		delete(s.members[name], nick)
		changed = append(changed, s.snapshot(name))
	}
	return changed
}

// rename replaces oldNick with newNick in every channel containing oldNick
func (s *sessionState) rename(oldNick, newNick string) []Members {
	var changed []Members
	for _, name := range s.sortedChannels(oldNick) {
		set := s.members[name]
		delete(set, oldNick)
		set[newNick] = struct{}{}
		changed = append(changed, s.snapshot(name))
	}
	return changed
}

func (s *sessionState) openBatch(id string) {
	s.batches[id] = []Message{}
}

// appendBatch adds msg to an open batch; false if no such batch is open
func (s *sessionState) appendBatch(id string, msg Message) bool {
	list, ok := s.batches[id]
	if !ok {
		return false
	}
	s.batches[id] = append(list, msg)
	return true
}

// closeBatch deletes the batch and returns its messages in arrival order
func (s *sessionState) closeBatch(id string) []Message {
	list := s.batches[id]
	delete(s.batches, id)
	return list
}
