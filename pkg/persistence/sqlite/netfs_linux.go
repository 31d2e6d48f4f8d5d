// Copyright 2025 UMH Systems GmbH
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

//go:build linux

package sqlite

import (
	"fmt"
	"syscall"
)

// Filesystem magic numbers from statfs(2).
const (
	nfsMagic  = 0x6969
	cifsMagic = 0xff534d42
	smbMagic  = 0x517b
	smb2Magic = 0xfe534d42
)

// IsNetworkFilesystem reports whether path lives on NFS or CIFS/SMB, where
// the shared-memory locking WAL mode relies on does not work.
func IsNetworkFilesystem(path string) (bool, string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return false, "", fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}

	switch uint32(stat.Type) {
	case nfsMagic:
		return true, "nfs", nil
	case cifsMagic:
		return true, "cifs", nil
	case smbMagic:
		return true, "smb", nil
	case smb2Magic:
		return true, "smb2", nil
	default:
		return false, fmt.Sprintf("0x%x", stat.Type), nil
	}
}
