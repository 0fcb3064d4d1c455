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

//go:generate go-bindata -pkg rcm -nocompress -modtime 1 -mode 420 -o miniloader_bindata.go miniloader/

package rcm

import (
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

// EmbeddedMiniloader returns the miniloader image compiled in for the chip.
func EmbeddedMiniloader(ct tegra.ChipType) ([]byte, error) {
	data, err := Asset(miniloaderAsset(ct))
	if err != nil {
		return nil, errors.NotFoundf("embedded miniloader for %s", ct)
	}
	return data, nil
}

func miniloaderAsset(ct tegra.ChipType) string {
	return "miniloader/" + ct.String() + ".bin"
}
