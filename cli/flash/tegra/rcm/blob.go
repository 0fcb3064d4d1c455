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
package rcm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

type BlobType uint32

const (
	BlobVersion BlobType = 1
	BlobRCM1    BlobType = 2
	BlobRCM2    BlobType = 3
	BlobBlHash  BlobType = 4
)

func (bt BlobType) String() string {
	switch bt {
	case BlobVersion:
		return "Version"
	case BlobRCM1:
		return "RCM1"
	case BlobRCM2:
		return "RCM2"
	case BlobBlHash:
		return "BlHash"
	default:
		return fmt.Sprintf("???(%d)", uint32(bt))
	}
}

type blobHeader struct {
	Type      uint32
	Length    uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved  [16]byte
}

const blobHeaderLen = 32

type BlobRecord struct {
	Type BlobType
	Data []byte
}

// Blob is a sequence of typed records produced by the secure key tool.
// Records are located by scanning from the start.
type Blob struct {
	data []byte
}

func NewBlob(data []byte) *Blob {
	return &Blob{data: data}
}

func ReadBlobFile(fname string) (*Blob, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read blob")
	}
	return NewBlob(data), nil
}

// Lookup returns the payload of the first record of type bt.
func (b *Blob) Lookup(bt BlobType) ([]byte, error) {
	off := 0
	for off < len(b.data) {
		if len(b.data)-off < blobHeaderLen {
			return nil, tegra.NewProtocolError("blob: truncated header at %d", off)
		}
		var hdr blobHeader
		binary.Read(bytes.NewReader(b.data[off:off+blobHeaderLen]), binary.LittleEndian, &hdr)
		off += blobHeaderLen
		if uint64(hdr.Length) > uint64(len(b.data)-off) {
			return nil, tegra.NewProtocolError("blob: %s record at %d is truncated (%d > %d)",
				BlobType(hdr.Type), off-blobHeaderLen, hdr.Length, len(b.data)-off)
		}
		if BlobType(hdr.Type) == bt {
			return b.data[off : off+int(hdr.Length)], nil
		}
		off += int(hdr.Length)
	}
	return nil, errors.NotFoundf("blob record %s", bt)
}

// Records returns all records in file order.
func (b *Blob) Records() ([]BlobRecord, error) {
	var res []BlobRecord
	r := bytes.NewReader(b.data)
	for r.Len() > 0 {
		var hdr blobHeader
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			return nil, tegra.NewProtocolError("blob: truncated header")
		}
		if int64(hdr.Length) > int64(r.Len()) {
			return nil, tegra.NewProtocolError("blob: %s record is truncated", BlobType(hdr.Type))
		}
		data := make([]byte, hdr.Length)
		r.Read(data)
		res = append(res, BlobRecord{Type: BlobType(hdr.Type), Data: data})
	}
	return res, nil
}

// Version returns the version string stored in the blob.
func (b *Blob) Version() (string, error) {
	data, err := b.Lookup(BlobVersion)
	if err != nil {
		return "", errors.Trace(err)
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

func BuildBlob(records []BlobRecord) []byte {
	buf := bytes.NewBuffer(nil)
	for _, rec := range records {
		hdr := blobHeader{Type: uint32(rec.Type), Length: uint32(len(rec.Data))}
		binary.Write(buf, binary.LittleEndian, &hdr)
		buf.Write(rec.Data)
	}
	return buf.Bytes()
}

func majorVersion(v string) string {
	v = goversion.Normalize(strings.TrimPrefix(strings.TrimSpace(v), "v"))
	return strings.SplitN(v, ".", 2)[0]
}

// CheckCompatibility compares major versions of the tool and the one that
// produced the blob. A mismatch is not fatal; a warning is returned.
func CheckCompatibility(toolVersion, blobVersion string) string {
	tm, bm := majorVersion(toolVersion), majorVersion(blobVersion)
	if goversion.CompareSimple(tm, bm) == 0 {
		return ""
	}
	return fmt.Sprintf("Not Recommended using nvflash(%s) with nvsbktool(%s)", toolVersion, blobVersion)
}
