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
package transport

import (
	"io"
	"os"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

const defaultSerialBaudRate = 115200

type serialConn struct {
	portName string
	conn     io.ReadWriteCloser
}

// OpenSerial opens a bootloader connection over a UART. There is no boot ROM
// handshake on this path; the bootloader must already be running.
func OpenSerial(portName string, baudRate uint) (Conn, error) {
	if portName == "" {
		return nil, errors.Errorf("serial transport requires a port")
	}
	if baudRate == 0 {
		baudRate = defaultSerialBaudRate
	}
	glog.Infof("Opening %s @ %d...", portName, baudRate)
	s, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		ParityMode:      serial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Annotatef(ErrDeviceNotFound, "%s", portName)
		}
		if os.IsPermission(errors.Cause(err)) {
			return nil, errors.Annotatef(ErrAccessDenied, "%s", portName)
		}
		return nil, errors.Annotatef(err, "failed to open %s", portName)
	}
	return &serialConn{portName: portName, conn: s}, nil
}

func (sc *serialConn) Read(buf []byte) (int, error) {
	n, err := sc.conn.Read(buf)
	glog.V(4).Infof("%s <- %d %v", sc.portName, n, err)
	return n, err
}

func (sc *serialConn) Write(buf []byte) (int, error) {
	n, err := sc.conn.Write(buf)
	glog.V(4).Infof("%s -> %d/%d %v", sc.portName, n, len(buf), err)
	return n, err
}

func (sc *serialConn) Close() error {
	glog.V(1).Infof("closing %s", sc.portName)
	return sc.conn.Close()
}
