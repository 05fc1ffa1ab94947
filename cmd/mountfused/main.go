// Copyright 2015 Google Inc. All Rights Reserved.
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

// Command mountfused starts one in-process session against a device
// slot and serves it with a chosen sample FileSystem. It stands in for
// the teacher's samples/mount_memfs, which drives a real kernel mount;
// this spec's Non-goals exclude OS VFS glue and mount-argument parsing,
// so here "mounting" means binding a fusedev.Slot directly rather than
// calling into a host mount(2)/fusermount helper.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/jacobsa/timeutil"

	"github.com/go-fuse-transport/fused/fusedev"
	"github.com/go-fuse-transport/fused/fusesession"
	"github.com/go-fuse-transport/fused/fskit"
	"github.com/go-fuse-transport/fused/samples/loopbackfs"
	"github.com/go-fuse-transport/fused/samples/memkvfs"
)

var (
	fBackend = flag.String("backend", "memkvfs", "Backend filesystem: memkvfs or loopback.")
	fRoot    = flag.String("root", "", "Backing directory for -backend=loopback.")
	fFsName  = flag.String("fsname", "fused", "Cosmetic filesystem name stored in the session config.")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "mountfused: ", log.LstdFlags)

	server, err := buildServer(logger)
	if err != nil {
		log.Fatalf("buildServer: %v", err)
	}

	cfg := fusesession.Config{
		FsName:             *fFsName,
		DefaultPermissions: true,
		MaxReadahead:       128 * 1024,
	}

	table := fusedev.NewTable()
	slot, _, err := table.Open(0, cfg)
	if err != nil {
		log.Fatalf("device open: %v", err)
	}
	defer slot.Close()

	log.Printf("mountfused: serving backend %q on slot 0", *fBackend)
	if err := server.Serve(slot); err != nil {
		log.Fatalf("Serve: %v", err)
	}
}

func buildServer(logger *log.Logger) (*fskit.Server, error) {
	switch *fBackend {
	case "memkvfs":
		fs := memkvfs.New(timeutil.RealClock())
		return fskit.NewServer(fs, logger), nil

	case "loopback":
		if *fRoot == "" {
			log.Fatalf("You must set -root for -backend=loopback.")
		}
		fs, err := loopbackfs.New(*fRoot, logger)
		if err != nil {
			return nil, err
		}
		return fskit.NewServer(fs, logger), nil

	default:
		log.Fatalf("unknown -backend %q (want memkvfs or loopback)", *fBackend)
		return nil, nil
	}
}
