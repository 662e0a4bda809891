package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"vescprobe/host/device"
	"vescprobe/protocol"
)

var errUsage = errors.New("usage")

type cliCommand struct {
	Name    string
	Usage   string
	Help    string
	MinArgs int
	MaxArgs int // -1 for no limit
	Handler func(d *device.Device, out io.Writer, args []string) error
}

var cliCommands = map[string]cliCommand{}

func init() {
	for _, c := range []cliCommand{
		{"alive", "alive", "send the keep-alive", 0, 0, cmdAlive},
		{"fw", "fw", "firmware version and hardware name", 0, 0, cmdFirmware},
		{"values", "values", "hex dump of the GET_VALUES reply", 0, 0, cmdValues},
		{"signature", "signature [expected]", "verify the custom config signature", 0, 1, cmdSignature},
		{"xml", "xml [index]", "print the custom config XML", 0, 1, cmdXML},
		{"term", "term <text...>", "run a terminal command", 1, -1, cmdTerminal},
		{"conf-get", "conf-get <symbol>", "read a config value", 1, 1, cmdConfGet},
		{"conf-set", "conf-set <symbol> <value>", "change a config value in RAM", 2, 2, cmdConfSet},
		{"conf-store", "conf-store", "persist the configuration", 0, 0, cmdConfStore},
		{"reboot", "reboot", "restart the controller", 0, 0, cmdReboot},
		{"raw", "raw <opcode> [hex payload]", "send any opcode and dump the reply", 1, 2, cmdRaw},
		{"send", "send <COMMAND> [args...]", "call a registry command by name", 1, -1, cmdSend},
		{"commands", "commands", "list the registry commands", 0, 0, cmdCommands},
	} {
		cliCommands[c.Name] = c
	}
}

func commandNames() []string {
	names := make([]string, 0, len(cliCommands))
	for name := range cliCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	for _, name := range commandNames() {
		c := cliCommands[name]
		fmt.Fprintf(out, "  %-28s %s\n", c.Usage, c.Help)
	}
	fmt.Fprintf(out, "  %-28s %s\n", "shell", "interactive mode")
}

func runCommand(d *device.Device, out io.Writer, name string, args []string) error {
	cmd, ok := cliCommands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
	if len(args) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(args) > cmd.MaxArgs) {
		return fmt.Errorf("%w: %s", errUsage, cmd.Usage)
	}
	return cmd.Handler(d, out, args)
}

func cmdAlive(d *device.Device, out io.Writer, _ []string) error {
	if err := d.Alive(); err != nil {
		return err
	}
	fmt.Fprintln(out, "alive sent")
	return nil
}

func cmdFirmware(d *device.Device, out io.Writer, _ []string) error {
	info, err := d.FirmwareVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "firmware: %s\n", info)
	if len(info.UUID) > 0 {
		fmt.Fprintf(out, "uuid:     %s\n", hex.EncodeToString(info.UUID))
	}
	return nil
}

func cmdValues(d *device.Device, out io.Writer, _ []string) error {
	values, err := d.Values()
	if err != nil {
		return err
	}
	fmt.Fprint(out, hex.Dump(values))
	return nil
}

func cmdSignature(d *device.Device, out io.Writer, args []string) error {
	var expected uint32
	if len(args) == 1 {
		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("%w: expected signature %q: %v", errUsage, args[0], err)
		}
		expected = uint32(v)
	}

	sig, err := d.VerifySignature(expected)
	var mismatch *protocol.SignatureMismatchError
	switch {
	case errors.As(err, &mismatch):
		fmt.Fprintf(out, "signature: %d (0x%08X) MISMATCH, expected %d (0x%08X)\n",
			mismatch.Got, mismatch.Got, mismatch.Want, mismatch.Want)
		return err
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "signature: %d (0x%08X) OK\n", sig, sig)
	return nil
}

func parseIndex(args []string) (uint8, error) {
	if len(args) == 0 {
		return 0, nil
	}
	v, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: index %q: %v", errUsage, args[0], err)
	}
	return uint8(v), nil
}

func cmdXML(d *device.Device, out io.Writer, args []string) error {
	index, err := parseIndex(args)
	if err != nil {
		return err
	}
	xml, err := d.CustomConfigXML(index)
	if err != nil {
		return err
	}
	out.Write(xml)
	if len(xml) > 0 && xml[len(xml)-1] != '\n' {
		fmt.Fprintln(out)
	}
	return nil
}

func cmdTerminal(d *device.Device, out io.Writer, args []string) error {
	text, err := d.Terminal(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, text)
	return nil
}

func cmdConfGet(d *device.Device, out io.Writer, args []string) error {
	v, err := d.ConfigGet(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s = %s\n", args[0], v)
	return nil
}

func cmdConfSet(d *device.Device, out io.Writer, args []string) error {
	if err := d.ConfigSet(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s set to %s (run conf-store to persist)\n", args[0], args[1])
	return nil
}

func cmdConfStore(d *device.Device, out io.Writer, _ []string) error {
	if err := d.ConfigStore(); err != nil {
		return err
	}
	fmt.Fprintln(out, "configuration stored")
	return nil
}

func cmdReboot(d *device.Device, out io.Writer, _ []string) error {
	if err := d.Reboot(); err != nil {
		return err
	}
	fmt.Fprintln(out, "reboot sent")
	return nil
}

func cmdRaw(d *device.Device, out io.Writer, args []string) error {
	opcode, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return fmt.Errorf("%w: opcode %q: %v", errUsage, args[0], err)
	}
	var payload []byte
	if len(args) == 2 {
		payload, err = hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("%w: payload %q: %v", errUsage, args[1], err)
		}
	}

	resp, err := d.Raw(byte(opcode), payload)
	if err != nil {
		return err
	}
	printResponse(out, resp)
	return nil
}

func cmdSend(d *device.Device, out io.Writer, args []string) error {
	resp, err := d.Session().Call(args[0], args[1:], 0)
	if err != nil {
		return err
	}
	printResponse(out, resp)
	return nil
}

func cmdCommands(d *device.Device, out io.Writer, _ []string) error {
	for _, c := range d.Session().Registry().Commands() {
		fmt.Fprintf(out, "  [%3d] %-22s %s\n", c.Opcode, c.Name, c.Help)
	}
	return nil
}

func printResponse(out io.Writer, resp *protocol.Response) {
	if !resp.Replied {
		fmt.Fprintf(out, "%s: sent, no reply expected\n", resp.Command)
		return
	}
	fmt.Fprintf(out, "%s: opcode %d, %d bytes\n", resp.Command, resp.Opcode, len(resp.Payload))
	if resp.Opcode == protocol.OpPrint {
		fmt.Fprintln(out, resp.Text())
		return
	}
	fmt.Fprint(out, hex.Dump(resp.Payload))
}
