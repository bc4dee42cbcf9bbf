// Copyright 2026 Howso Incorporated
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package interp

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// Version is this interpreter's reported engine version, per spec.md §6's
// `system version`/`version_compatible` subcommands.
const Version = "1.0.0"

// evalSystem implements the `system` opcode's variadic subcommand dispatch
// (spec.md §6): the first argument names the subcommand, gated per-command
// by the target entity's permission bits; every gated command returns null
// on missing permission rather than an error, per the spec's "fail closed,
// fail quiet" convention for this opcode. System-call mutation events are
// not reported to WriteListener.
func evalSystem(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	cmdNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return cmdNode, sig
	}
	if cmdNode.Type != node.TypeString {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	cmd, _ := it.Pool.GetStringFromID(cmdNode.StringID)
	args := n.Ordered[1:]

	perms := it.Entity.Permissions()

	switch cmd {
	case "exit":
		it.markSideEffect()
		os.Exit(0)
		return boolNode(it.Manager, it.workerID, true), SignalNone

	case "readline":
		if !perms.Has(constraints.PermStdIn) {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		return stringResultNode(it, line), SignalNone

	case "printline":
		if !perms.Has(constraints.PermStdOutAndStdErr) {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		var text string
		if len(args) > 0 {
			v, sig := it.InterpretNode(args[0], false)
			if sig != SignalNone {
				return v, sig
			}
			text = nodeToDisplayString(it, v)
		}
		fmt.Fprintln(os.Stdout, text)
		it.markSideEffect()
		return boolNode(it.Manager, it.workerID, true), SignalNone

	case "cwd":
		if !perms.Has(constraints.PermEnvironment) {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		wd, err := os.Getwd()
		if err != nil {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		return stringResultNode(it, wd), SignalNone

	case "system":
		if !perms.Has(constraints.PermSystem) || len(args) < 1 {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		cmdLine, sig := it.InterpretNode(args[0], false)
		if sig != SignalNone {
			return cmdLine, sig
		}
		if cmdLine.Type != node.TypeString {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		cmdStr, _ := it.Pool.GetStringFromID(cmdLine.StringID)
		out, exitCode := runShellCommand(cmdStr)
		it.markSideEffect()
		result := it.Manager.AllocOpNode(node.TypeList, []*node.Node{
			it.Manager.AllocNumberNode(float64(exitCode), it.workerID),
			stringResultNode(it, out),
		}, it.workerID)
		return result, SignalNone

	case "os":
		return stringResultNode(it, runtime.GOOS), SignalNone

	case "sleep":
		if len(args) < 1 {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		secNode, sig := it.InterpretNode(args[0], false)
		if sig != SignalNone {
			return secNode, sig
		}
		sec := node.ToNumber(secNode, it.Pool, 0)
		if sec > 0 {
			time.Sleep(time.Duration(sec * float64(time.Second)))
		}
		return boolNode(it.Manager, it.workerID, true), SignalNone

	case "version":
		return stringResultNode(it, Version), SignalNone

	case "version_compatible":
		if len(args) < 1 {
			return boolNode(it.Manager, it.workerID, false), SignalNone
		}
		v, sig := it.InterpretNode(args[0], false)
		if sig != SignalNone {
			return v, sig
		}
		s, _ := it.Pool.GetStringFromID(v.StringID)
		return boolNode(it.Manager, it.workerID, majorVersion(s) == majorVersion(Version)), SignalNone

	case "est_mem_reserved":
		return it.Manager.AllocNumberNode(float64(it.Manager.Capacity()), it.workerID), SignalNone

	case "est_mem_used":
		return it.Manager.AllocNumberNode(float64(it.Manager.NumAllocatedNodes()), it.workerID), SignalNone

	case "mem_diagnostics":
		diag := it.Manager.AllocUninitializedNode(it.workerID)
		diag.Type = node.TypeAssoc
		diag.Kind = node.ValueAssoc
		diag.Assoc = map[strpool.StringID]*node.Node{}
		return diag, SignalNone

	case "validate":
		return boolNode(it.Manager, it.workerID, !it.Constraints.AreExecutionResourcesExhausted()), SignalNone

	case "rand":
		n := 16
		if len(args) > 0 {
			v, sig := it.InterpretNode(args[0], false)
			if sig != SignalNone {
				return v, sig
			}
			n = int(node.ToNumber(v, it.Pool, 16))
		}
		if n <= 0 {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		return stringResultNode(it, base64.StdEncoding.EncodeToString(buf)), SignalNone

	case "sign_key_pair":
		if !perms.Has(constraints.PermSystem) {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		result := it.Manager.AllocOpNode(node.TypeList, []*node.Node{
			stringResultNode(it, base64.StdEncoding.EncodeToString(pub)),
			stringResultNode(it, base64.StdEncoding.EncodeToString(priv)),
		}, it.workerID)
		return result, SignalNone

	case "encrypt_key_pair":
		if !perms.Has(constraints.PermSystem) {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
		privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
		result := it.Manager.AllocOpNode(node.TypeList, []*node.Node{
			stringResultNode(it, string(pubPEM)),
			stringResultNode(it, string(privPEM)),
		}, it.workerID)
		return result, SignalNone

	case "debugging_info":
		info := fmt.Sprintf("goroutines=%d gomaxprocs=%d", runtime.NumGoroutine(), runtime.GOMAXPROCS(0))
		return stringResultNode(it, info), SignalNone

	case "get_max_num_threads":
		if it.ThreadPool == nil {
			return it.Manager.AllocNumberNode(1, it.workerID), SignalNone
		}
		return it.Manager.AllocNumberNode(float64(it.ThreadPool.MaxActive()), it.workerID), SignalNone

	case "set_max_num_threads":
		if !perms.Has(constraints.PermAlterPerformance) {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		if it.ThreadPool == nil || len(args) < 1 {
			return boolNode(it.Manager, it.workerID, false), SignalNone
		}
		v, sig := it.InterpretNode(args[0], false)
		if sig != SignalNone {
			return v, sig
		}
		it.ThreadPool.SetMaxActive(int(node.ToNumber(v, it.Pool, 0)))
		it.markSideEffect()
		return boolNode(it.Manager, it.workerID, true), SignalNone

	case "built_in_data":
		return nullNode(it.Manager, it.workerID), SignalNone

	default:
		return nullNode(it.Manager, it.workerID), SignalNone
	}
}

func stringResultNode(it *Interp, s string) *node.Node {
	n := it.Manager.AllocUninitializedNode(it.workerID)
	n.Type = node.TypeString
	n.Kind = node.ValueString
	n.StringID = it.Pool.CreateStringReferenceFromString(s)
	return n
}

func majorVersion(v string) string {
	parts := strings.SplitN(v, ".", 2)
	return parts[0]
}

// runShellCommand runs cmdStr through the platform shell and captures
// combined stdout; a non-zero or failed exit yields that process's exit
// code (or -1 if it could not even start).
func runShellCommand(cmdStr string) (string, int) {
	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}
	cmd := exec.Command(shell, flag, cmdStr)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return string(out), exitErr.ExitCode()
	}
	return string(out), -1
}

func nodeToDisplayString(it *Interp, n *node.Node) string {
	switch n.Type {
	case node.TypeString:
		s, _ := it.Pool.GetStringFromID(n.StringID)
		return s
	case node.TypeNumber:
		return fmt.Sprintf("%g", n.Number)
	case node.TypeTrue:
		return "true"
	case node.TypeFalse:
		return "false"
	case node.TypeNull:
		return "null"
	default:
		return fmt.Sprintf("%v", n.Type)
	}
}
