package nv3p

import (
	"bytes"
	"net"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

func pipe(t *testing.T) (*Channel, *Channel, func()) {
	a, b := net.Pipe()
	return NewChannel(a), NewChannel(b), func() {
		a.Close()
		b.Close()
	}
}

func TestChecksum(t *testing.T) {
	p := encodePacket(&packet{Type: PacketData, Sequence: 7, Body: []byte("hello")})
	if len(p) != packetHeaderLen+4+5+4 {
		t.Fatalf("packet length %d", len(p))
	}
	var sum uint32
	for _, c := range p[:len(p)-4] {
		sum += uint32(c)
	}
	cs := uint32(p[len(p)-4]) | uint32(p[len(p)-3])<<8 | uint32(p[len(p)-2])<<16 | uint32(p[len(p)-1])<<24
	if sum+cs != 0 {
		t.Errorf("sum %d + checksum %d != 0", sum, cs)
	}
	got, err := readPacket(bytes.NewReader(p))
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if got.Type != PacketData || got.Sequence != 7 || string(got.Body) != "hello" {
		t.Errorf("got %+v", got)
	}
	p[packetHeaderLen+4] ^= 0x20
	if _, err := readPacket(bytes.NewReader(p)); err != errBadChecksum {
		t.Errorf("expected bad checksum, got %v", err)
	}
}

func TestSendInlineReplyAndStatus(t *testing.T) {
	host, dev, done := pipe(t)
	defer done()

	errc := make(chan error, 1)
	go func() {
		errc <- func() error {
			cmd, body, err := dev.Receive()
			if err != nil {
				return err
			}
			if cmd != CmdQueryPartition {
				return errors.Errorf("got %s", cmd)
			}
			var qp QueryPartitionArgs
			if err := DecodeArgs(body, &qp); err != nil {
				return err
			}
			qp.Size = 4096 * uint64(qp.ID)
			qp.Address = 512
			qp.PartType = 7
			if err := dev.Reply(cmd, &qp); err != nil {
				return err
			}
			return dev.SendStatus(StatusOk, "", 0)
		}()
	}()

	qp := QueryPartitionArgs{ID: 3}
	require.NoError(t, host.Send(CmdQueryPartition, &qp))
	require.Equal(t, uint64(3*4096), qp.Size)
	require.Equal(t, uint64(512), qp.Address)
	require.Equal(t, uint32(7), qp.PartType)
	require.NoError(t, host.WaitStatus())
	require.NoError(t, <-errc)
}

func TestWaitStatusFailure(t *testing.T) {
	host, dev, done := pipe(t)
	defer done()

	go func() {
		if _, _, err := dev.Receive(); err == nil {
			dev.SendStatus(StatusInvalidPartition, "no such partition", 3)
		}
	}()
	require.NoError(t, host.Send(CmdFormatPartition, &PartitionIDArgs{ID: 42}))
	err := host.WaitStatus()
	require.Error(t, err)
	code, ok := StatusCode(err)
	require.True(t, ok)
	require.Equal(t, StatusInvalidPartition, code)
	require.Equal(t, "bootloader status: invalid partition (code: 6) message: no such partition flags: 3", err.Error())
}

func TestDataPhase(t *testing.T) {
	host, dev, done := pipe(t)
	defer done()

	data := make([]byte, 2*MaxDataPacket+100)
	for i := range data {
		data[i] = byte(i * 7)
	}
	got := make([]byte, len(data))
	errc := make(chan error, 1)
	go func() {
		n, err := dev.DataReceive(got)
		if err == nil && n != len(data) {
			err = errors.Errorf("received %d", n)
		}
		errc <- err
	}()
	require.NoError(t, host.DataSend(data))
	require.NoError(t, <-errc)
	require.True(t, bytes.Equal(data, got))

	// And back.
	go func() { errc <- dev.DataSend(data[:1000]) }()
	back := make([]byte, 1000)
	n, err := host.DataReceive(back)
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	require.NoError(t, <-errc)
	require.True(t, bytes.Equal(data[:1000], back))
}

func TestNack(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	host := NewChannel(a)

	// A peer that rejects whatever it gets.
	go func() {
		p, err := readPacket(b)
		if err != nil {
			return
		}
		b.Write(encodePacket(&packet{Type: PacketNack, Sequence: p.Sequence, Nack: NackBadCommand}))
	}()
	err := host.Send(CmdSync, nil)
	require.True(t, IsNack(err), "got %v", err)
	require.Equal(t, NackBadCommand, host.LastNack())
}

func TestReceiveBadChecksumIsNacked(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	dev := NewChannel(b)

	raw := encodePacket(&packet{Type: PacketCommand, Sequence: 1, Command: CmdSync})
	raw[len(raw)-1] ^= 0xff
	nackc := make(chan *packet, 1)
	go func() {
		a.Write(raw)
		p, _ := readPacket(a)
		nackc <- p
	}()
	_, _, err := dev.Receive()
	require.True(t, tegra.IsProtocol(err), "got %v", err)
	p := <-nackc
	require.NotNil(t, p)
	require.Equal(t, PacketNack, p.Type)
	require.Equal(t, NackBadData, p.Nack)
}

func TestInlineReplyRefused(t *testing.T) {
	host, dev, done := pipe(t)
	defer done()

	go func() {
		if _, _, err := dev.Receive(); err == nil {
			dev.SendStatus(StatusPartitionTableRequired, "", 0)
		}
	}()
	var rpt ReadPartitionTableArgs
	err := host.Send(CmdReadPartitionTable, &rpt)
	code, ok := StatusCode(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, StatusPartitionTableRequired, code)
}

func TestDataReceiveAcrossPacketBoundaries(t *testing.T) {
	host, dev, done := pipe(t)
	defer done()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	errc := make(chan error, 1)
	go func() {
		if err := dev.DataSend(data[:60]); err != nil {
			errc <- err
			return
		}
		errc <- dev.DataSend(data[60:])
	}()

	got := make([]byte, 100)
	for _, c := range []struct {
		off, n, buffered int
	}{
		{0, 50, 10},
		{50, 30, 20},
		{80, 20, 0},
	} {
		n, err := host.DataReceive(got[c.off : c.off+c.n])
		require.NoError(t, err)
		require.Equal(t, c.n, n)
		require.Equal(t, c.buffered, host.Buffered(), "after %d bytes", c.off+c.n)
	}
	require.NoError(t, <-errc)
	require.True(t, bytes.Equal(data, got))
}

func TestInlineReplyOkStatusIsProtocolError(t *testing.T) {
	host, dev, done := pipe(t)
	defer done()

	go func() {
		if _, _, err := dev.Receive(); err == nil {
			dev.SendStatus(StatusOk, "", 0)
		}
	}()
	var qp QueryPartitionArgs
	err := host.Send(CmdQueryPartition, &qp)
	require.True(t, tegra.IsProtocol(err), "got %v", err)
	require.Contains(t, err.Error(), "status in place of")
}
