// MIT License
//
// # Copyright (c) 2023 Jimmy Fjällid
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package smb

import (
	"fmt"

	"github.com/jfjallid/go-smbwire/smb/encoder"
)

// Chain is an ordered set of messages sent in one transport write. Each
// message's NextCommand is the 8 byte aligned distance to the following
// header and 0 for the last one.
//
// A Chain belongs to a single logical request and is not safe for concurrent
// use.
type Chain struct {
	packets []*Packet
}

// NewChain returns a chain of related operations made of pkts.
func NewChain(pkts ...*Packet) *Chain {
	c := &Chain{}
	for _, p := range pkts {
		c.Append(p)
	}
	return c
}

// Append adds p to the tail of the chain. Every message after the first is
// marked as a related operation and inherits the session and tree id of its
// predecessor when the chain is marshalled.
func (c *Chain) Append(p *Packet) *Chain {
	if len(c.packets) > 0 {
		p.Header.Flags |= SMB2_FLAGS_RELATED_OPERATIONS
	}
	c.packets = append(c.packets, p)
	return c
}

// AppendUnrelated adds p without the related operations flag.
func (c *Chain) AppendUnrelated(p *Packet) *Chain {
	p.Header.Flags &^= SMB2_FLAGS_RELATED_OPERATIONS
	c.packets = append(c.packets, p)
	return c
}

// SplitAt detaches the messages from index i onwards and returns them as a
// new chain whose head no longer carries the related operations flag.
func (c *Chain) SplitAt(i int) *Chain {
	if i <= 0 || i >= len(c.packets) {
		return nil
	}
	tail := &Chain{packets: append([]*Packet(nil), c.packets[i:]...)}
	clear(c.packets[i:])
	c.packets = c.packets[:i]
	tail.packets[0].Header.Flags &^= SMB2_FLAGS_RELATED_OPERATIONS
	return tail
}

// Split detaches everything after the head.
func (c *Chain) Split() *Chain {
	return c.SplitAt(1)
}

func (c *Chain) Len() int {
	return len(c.packets)
}

func (c *Chain) Packets() []*Packet {
	return c.packets
}

func (c *Chain) Head() *Packet {
	if len(c.packets) == 0 {
		return nil
	}
	return c.packets[0]
}

func (c *Chain) SetSessionID(id uint64) {
	for _, p := range c.packets {
		p.Header.SessionID = id
	}
}

// SetTreeID sets the tree id on every synchronous message.
func (c *Chain) SetTreeID(id uint32) {
	for _, p := range c.packets {
		if !p.Header.IsAsync() {
			p.Header.TreeID = id
		}
	}
}

// AssignMessageIDs numbers the messages starting at next, advancing by each
// message's credit charge, and returns the next unused id.
func (c *Chain) AssignMessageIDs(next uint64) uint64 {
	for _, p := range c.packets {
		p.Header.MessageID = next
		next += uint64(max(p.Header.CreditCharge, 1))
	}
	return next
}

// Layout returns the header offsets of messages with the given unpadded sizes.
// The extra last element is the total length of the chain.
func Layout(sizes []int) []int {
	offsets := make([]int, len(sizes)+1)
	for i, n := range sizes {
		offsets[i+1] = offsets[i] + encoder.Align8(n)
	}
	return offsets
}

// Marshal sizes every message, computes the offsets and writes the chain in a
// single forward pass. When signer is not nil every message is signed over
// its own region of the buffer.
func (c *Chain) Marshal(signer Signer) ([]byte, error) {
	if len(c.packets) == 0 {
		return nil, fmt.Errorf("smb: marshal: empty chain")
	}
	sizes := make([]int, len(c.packets))
	for i, p := range c.packets {
		sizes[i] = p.Size()
	}
	offsets := Layout(sizes)
	buf := make([]byte, offsets[len(c.packets)])

	for i, p := range c.packets {
		if i > 0 && p.Header.IsRelated() {
			prev := c.packets[i-1]
			p.Header.SessionID = prev.Header.SessionID
			if !p.Header.IsAsync() {
				p.Header.TreeID = prev.Header.TreeID
			}
		}
		if i < len(c.packets)-1 {
			p.Header.NextCommand = uint32(offsets[i+1] - offsets[i])
		} else {
			p.Header.NextCommand = 0
		}
		if signer != nil {
			p.Header.Flags |= SMB2_FLAGS_SIGNED
		}
		p.Header.Signature = [16]byte{}
		if _, err := p.Encode(buf, offsets[i]); err != nil {
			log.Errorln(err)
			return nil, err
		}
	}

	if signer != nil {
		for i, p := range c.packets {
			region := buf[offsets[i]:offsets[i+1]]
			if err := signer.Sign(region); err != nil {
				log.Errorln(err)
				return nil, err
			}
			copy(p.Header.Signature[:], region[48:64])
		}
	}
	log.Debugf("Marshalled chain of %d message(s), %d bytes\n", len(c.packets), len(buf))
	return buf, nil
}

// UnmarshalChain decodes the messages in buf, following NextCommand until it
// is 0. compound marks buf as one complete receive so that trailing bytes are
// attributed to the last message.
func UnmarshalChain(buf []byte, factory BodyFactory, compound bool) (*Chain, error) {
	c := &Chain{}
	pos := 0
	for {
		p := &Packet{}
		if _, err := p.decode(buf, pos, compound, factory); err != nil {
			return nil, err
		}
		c.packets = append(c.packets, p)
		if p.Header.NextCommand == 0 {
			break
		}
		pos += int(p.Header.NextCommand)
	}
	return c, nil
}

// verify checks the signature of every signed message against the region it
// was decoded from.
func (c *Chain) verify(buf []byte, signer Signer) error {
	for _, p := range c.packets {
		if !p.Header.IsSigned() {
			continue
		}
		// Interim responses are not signed even when the final one is
		if p.IsInterim() {
			continue
		}
		region := buf[p.start:p.end]
		if !signer.Verify(region) {
			return fmt.Errorf("smb: %s (msg id %d): %w", CommandName(p.Header.Command), p.Header.MessageID, ErrSignatureMismatch)
		}
	}
	return nil
}

// Exchange is a request together with its response, if one arrived.
type Exchange struct {
	Request  *Packet
	Response *Packet
}

// Pair matches the responses to the requests of c by message id.
func (c *Chain) Pair(responses *Chain) []Exchange {
	byID := make(map[uint64]*Packet)
	if responses != nil {
		for _, p := range responses.packets {
			// An interim response is superseded by the final one
			if prev, ok := byID[p.Header.MessageID]; ok && !prev.IsInterim() {
				continue
			}
			byID[p.Header.MessageID] = p
		}
	}
	res := make([]Exchange, len(c.packets))
	for i, p := range c.packets {
		res[i] = Exchange{Request: p, Response: byID[p.Header.MessageID]}
	}
	return res
}
