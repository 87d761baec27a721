package relay

import "github.com/BioHazard786/roomcall/internal/signaling"

// maxMembers is the room capacity; calls are strictly two-party.
const maxMembers = 2

// Room holds the members of one call in join order.
type Room struct {
	ID      string
	Members []*Client

	// mailbox holds the latest unanswered offer and the candidates its
	// author sent after it, for members that join late.
	mailbox *mailbox
}

type mailbox struct {
	author *Client
	frames []*signaling.Envelope
}

func (r *Room) full() bool {
	return len(r.Members) >= maxMembers
}

func (r *Room) memberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// others returns every member except c.
func (r *Room) others(c *Client) []*Client {
	var out []*Client
	for _, m := range r.Members {
		if m != c {
			out = append(out, m)
		}
	}
	return out
}

func (r *Room) remove(c *Client) {
	for i, m := range r.Members {
		if m == c {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			break
		}
	}
	if r.mailbox != nil && r.mailbox.author == c {
		r.mailbox = nil
	}
}

func (r *Room) recordOffer(author *Client, env *signaling.Envelope) {
	r.mailbox = &mailbox{author: author, frames: []*signaling.Envelope{env}}
}

func (r *Room) recordCandidate(author *Client, env *signaling.Envelope) {
	if r.mailbox != nil && r.mailbox.author == author {
		r.mailbox.frames = append(r.mailbox.frames, env)
	}
}

// pending returns the frames a newly joined member should see.
func (r *Room) pending(joiner *Client) []*signaling.Envelope {
	if r.mailbox == nil || r.mailbox.author == joiner {
		return nil
	}
	return r.mailbox.frames
}
