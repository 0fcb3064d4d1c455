//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package nv3p

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

// Channel speaks Nv3p over a byte stream. Every command or data packet is
// acknowledged by the receiver before the sender continues, so there is at
// most one exchange in flight. The same type serves both ends of the link.
type Channel struct {
	w        io.Writer
	r        *bufio.Reader
	seq      uint32
	lastNack NackCode
	// Unread tail of the last data packet.
	pending []byte
}

func NewChannel(rw io.ReadWriter) *Channel {
	return &Channel{
		w: rw,
		r: bufio.NewReaderSize(rw, MaxDataPacket+64),
	}
}

// LastNack returns the code of the most recent nack received from the peer.
func (c *Channel) LastNack() NackCode {
	return c.lastNack
}

func encodeArgs(arg interface{}) ([]byte, error) {
	if arg == nil {
		return nil, nil
	}
	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.LittleEndian, arg); err != nil {
		return nil, errors.Annotatef(err, "failed to encode %T", arg)
	}
	return buf.Bytes(), nil
}

// DecodeArgs unpacks an argument record received with Receive.
func DecodeArgs(b []byte, arg interface{}) error {
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, arg); err != nil {
		return tegra.NewProtocolError("short %T record (%d bytes)", arg, len(b))
	}
	return nil
}

func (c *Channel) writePacket(p *packet) error {
	data := encodePacket(p)
	glog.V(3).Infof("nv3p -> %s seq %d cmd %s len %d", p.Type, p.Sequence, p.Command, len(p.Body))
	if _, err := c.w.Write(data); err != nil {
		return tegra.NewTransportError("nv3p write", err)
	}
	return nil
}

func (c *Channel) sendAndAwaitAck(p *packet) error {
	c.seq++
	p.Sequence = c.seq
	if err := c.writePacket(p); err != nil {
		return errors.Trace(err)
	}
	resp, err := readPacket(c.r)
	if err != nil {
		return errors.Trace(err)
	}
	glog.V(3).Infof("nv3p <- %s seq %d", resp.Type, resp.Sequence)
	switch resp.Type {
	case PacketAck:
		if resp.Sequence != p.Sequence {
			return tegra.NewProtocolError("ack for packet %d, expected %d", resp.Sequence, p.Sequence)
		}
		return nil
	case PacketNack:
		c.lastNack = resp.Nack
		return &NackError{Code: resp.Nack}
	}
	return tegra.NewProtocolError("expected ack, got %s packet", resp.Type)
}

func (c *Channel) ack(seq uint32) error {
	return c.writePacket(&packet{Type: PacketAck, Sequence: seq})
}

func (c *Channel) nack(seq uint32, code NackCode) error {
	return c.writePacket(&packet{Type: PacketNack, Sequence: seq, Nack: code})
}

// recv reads the next command or data packet and acknowledges it.
func (c *Channel) recv(want PacketType) (*packet, error) {
	p, err := readPacket(c.r)
	if err == errBadChecksum {
		c.nack(p.Sequence, NackBadData)
		return nil, tegra.NewProtocolError("%s packet %d: bad checksum", p.Type, p.Sequence)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(3).Infof("nv3p <- %s seq %d cmd %s len %d", p.Type, p.Sequence, p.Command, len(p.Body))
	if p.Type != want {
		if p.Type == PacketCommand || p.Type == PacketData {
			c.nack(p.Sequence, NackBadData)
		}
		return nil, tegra.NewProtocolError("expected %s packet, got %s", want, p.Type)
	}
	if p.Type == PacketCommand && !p.Command.Known() {
		c.nack(p.Sequence, NackBadCommand)
		return nil, tegra.NewProtocolError("unknown command %d", uint32(p.Command))
	}
	if err := c.ack(p.Sequence); err != nil {
		return nil, errors.Trace(err)
	}
	return p, nil
}

// Send sends a command. For commands with an inline reply, arg (a pointer to
// the argument record) is overwritten with the peer's reply.
func (c *Channel) Send(cmd Command, arg interface{}) error {
	body, err := encodeArgs(arg)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.sendAndAwaitAck(&packet{Type: PacketCommand, Command: cmd, Body: body}); err != nil {
		return errors.Annotatef(err, "%s", cmd)
	}
	if !cmd.HasInlineReply() || arg == nil {
		return nil
	}
	rcmd, rbody, err := c.Receive()
	if err != nil {
		return errors.Annotatef(err, "%s reply", cmd)
	}
	if rcmd == CmdStatus {
		// The peer refused the command before producing a reply.
		var st CmdStatusArgs
		if err := DecodeArgs(rbody, &st); err != nil {
			return errors.Trace(err)
		}
		if err := statusError(&st); err != nil {
			return err
		}
		return tegra.NewProtocolError("status in place of %s reply", cmd)
	}
	if rcmd != cmd {
		return tegra.NewProtocolError("%s: reply for %s", cmd, rcmd)
	}
	return errors.Annotatef(DecodeArgs(rbody, arg), "%s reply", cmd)
}

// Reply sends a filled argument record back to the host. Used by the
// device side of the link.
func (c *Channel) Reply(cmd Command, arg interface{}) error {
	body, err := encodeArgs(arg)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.sendAndAwaitAck(&packet{Type: PacketCommand, Command: cmd, Body: body}))
}

// Receive reads the next command and its raw argument record.
func (c *Channel) Receive() (Command, []byte, error) {
	p, err := c.recv(PacketCommand)
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	return p.Command, p.Body, nil
}

func statusError(st *CmdStatusArgs) error {
	if st.Code == StatusOk {
		return nil
	}
	return &StatusError{Code: st.Code, Message: String(st.Message[:]), Flags: st.Flags}
}

// WaitStatus waits for the status that concludes the current command.
func (c *Channel) WaitStatus() error {
	cmd, body, err := c.Receive()
	if err != nil {
		return errors.Trace(err)
	}
	if cmd != CmdStatus {
		return tegra.NewProtocolError("expected status, got %s", cmd)
	}
	var st CmdStatusArgs
	if err := DecodeArgs(body, &st); err != nil {
		return errors.Trace(err)
	}
	glog.V(2).Infof("status %s (%d) %q flags %d", st.Code, uint32(st.Code), String(st.Message[:]), st.Flags)
	return statusError(&st)
}

// SendStatus concludes a command on the device side.
func (c *Channel) SendStatus(code Status, msg string, flags uint32) error {
	st := CmdStatusArgs{Code: code, Flags: flags}
	putString(st.Message[:], msg)
	return errors.Trace(c.Reply(CmdStatus, &st))
}

// DataSend sends buf as a data phase, in packets of at most MaxDataPacket.
func (c *Channel) DataSend(buf []byte) error {
	for len(buf) > 0 {
		n := len(buf)
		if n > MaxDataPacket {
			n = MaxDataPacket
		}
		if err := c.sendAndAwaitAck(&packet{Type: PacketData, Body: buf[:n]}); err != nil {
			return errors.Annotatef(err, "data send")
		}
		buf = buf[n:]
	}
	return nil
}

// DataReceive fills buf from the data phase. Packet boundaries are not
// visible to the caller: bytes of a packet that do not fit into buf are kept
// and returned by the next call.
func (c *Channel) DataReceive(buf []byte) (int, error) {
	filled := copy(buf, c.pending)
	c.pending = c.pending[filled:]
	for filled < len(buf) {
		p, err := c.recv(PacketData)
		if err != nil {
			return filled, errors.Annotatef(err, "data receive")
		}
		n := copy(buf[filled:], p.Body)
		filled += n
		if n < len(p.Body) {
			c.pending = append(c.pending[:0], p.Body[n:]...)
		}
	}
	return filled, nil
}

// Buffered returns the number of received data bytes not yet consumed.
func (c *Channel) Buffered() int {
	return len(c.pending)
}
