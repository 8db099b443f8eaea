package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cellwire/apnd/internal/buildinfo"
	"github.com/spf13/cobra"
)

const tokenEnv = "APND_TOKEN"

type cliOptions struct {
	socketPath string
	addr       string
	token      string
	output     string
	jsonOutput bool
	timeout    time.Duration
}

type cli struct {
	opts   cliOptions
	stdout io.Writer
}

func (c *cli) client() *apiClient {
	return newAPIClient(c.opts.socketPath, c.opts.addr, c.opts.token, c.opts.timeout)
}

func (c *cli) printer() (*printer, error) {
	if c.opts.jsonOutput {
		return newPrinter(c.stdout, outputJSON)
	}
	return newPrinter(c.stdout, c.opts.output)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout}
	root := &cobra.Command{
		Use:           "apnctl",
		Short:         "Manage APN templates and the reconciliation mode of apnd",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.socketPath, "socket", defaultSocketPath, "path to the apnd unix socket")
	flags.StringVar(&c.opts.addr, "addr", "", "talk to the TCP listener at host:port instead of the socket")
	flags.StringVar(&c.opts.token, "token", os.Getenv(tokenEnv), "bearer token for --addr (default $"+tokenEnv+")")
	flags.StringVarP(&c.opts.output, "output", "o", outputAuto, "output format: auto, table or json")
	flags.BoolVar(&c.opts.jsonOutput, "json", false, "shorthand for --output json")
	flags.DurationVar(&c.opts.timeout, "timeout", defaultRequestTimeout, "request timeout (e.g. 30s, 2m)")

	root.AddCommand(
		c.newStatusCommand(),
		c.newModeCommand(),
		c.newTemplateCommand(),
		c.newClearCommand(),
		c.newContextsCommand(),
		c.newEventsCommand(),
	)
	return root
}

func (c *cli) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, mode and modem status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			st, err := c.client().status(cmd.Context())
			if err != nil {
				return err
			}
			return p.render(st, func(w io.Writer) { printStatus(w, st) })
		},
	}
}

func (c *cli) newModeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or change the reconciliation mode",
	}
	get := &cobra.Command{
		Use:   "get",
		Short: "Show the current mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			m, err := c.client().mode(cmd.Context())
			if err != nil {
				return err
			}
			return p.render(m, func(w io.Writer) { printMode(w, m) })
		},
	}

	var templateID int64
	var autoStart bool
	set := &cobra.Command{
		Use:   "set <auto|manual>",
		Short: "Switch between AUTO and MANUAL mode",
		Long: "Switch between AUTO and MANUAL mode.\n\n" +
			"MANUAL requires --template. With --autostart the template is applied\n" +
			"again every time apnd starts.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			req := modeRequest{Mode: strings.ToUpper(strings.TrimSpace(args[0]))}
			if req.Mode == "MANUAL" {
				if templateID <= 0 {
					return fmt.Errorf("--template is required for manual mode")
				}
				req.TemplateID = templateID
				req.AutoStart = autoStart
			}
			m, err := c.client().setMode(cmd.Context(), req)
			if err != nil {
				return err
			}
			return p.render(m, func(w io.Writer) { printMode(w, m) })
		},
	}
	set.Flags().Int64Var(&templateID, "template", 0, "template id bound in manual mode")
	set.Flags().BoolVar(&autoStart, "autostart", false, "apply the bound template when apnd starts")

	cmd.AddCommand(get, set)
	return cmd
}

type templateFlags struct {
	name       string
	apn        string
	protocol   string
	username   string
	password   string
	authMethod string
	clearPass  bool
}

func (f *templateFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.name, "name", "", "display name")
	flags.StringVar(&f.apn, "apn", "", "access point name")
	flags.StringVar(&f.protocol, "protocol", "", "ip, ipv6 or dual (default dual)")
	flags.StringVar(&f.username, "username", "", "authentication username")
	flags.StringVar(&f.password, "password", "", "authentication password")
	flags.StringVar(&f.authMethod, "auth", "", "none, pap or chap (default chap)")
}

func (c *cli) newTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates", "tpl"},
		Short:   "Manage APN templates",
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			out, err := c.client().listTemplates(cmd.Context(), listLimit)
			if err != nil {
				return err
			}
			return p.render(out, func(w io.Writer) { printTemplates(w, out) })
		},
	}
	list.Flags().IntVar(&listLimit, "limit", 0, "maximum templates to show (default: daemon limit)")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTemplateID(args[0])
			if err != nil {
				return err
			}
			p, err := c.printer()
			if err != nil {
				return err
			}
			t, err := c.client().getTemplate(cmd.Context(), id)
			if err != nil {
				return err
			}
			return p.render(t, func(w io.Writer) { printTemplate(w, t) })
		},
	}

	var createFlags templateFlags
	create := &cobra.Command{
		Use:   "create --name <name> --apn <apn>",
		Short: "Create a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			req := templateRequest{
				Name:       createFlags.name,
				APN:        createFlags.apn,
				Protocol:   createFlags.protocol,
				Username:   createFlags.username,
				AuthMethod: createFlags.authMethod,
			}
			if cmd.Flags().Changed("password") {
				req.Password = &createFlags.password
			}
			t, err := c.client().createTemplate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return p.render(t, func(w io.Writer) { printTemplate(w, t) })
		},
	}
	createFlags.register(create)
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("apn")

	var updateFlags templateFlags
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a template",
		Long: "Change fields of a template. Flags that are not given keep their\n" +
			"current value. The stored password is kept unless --password or\n" +
			"--clear-password is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTemplateID(args[0])
			if err != nil {
				return err
			}
			p, err := c.printer()
			if err != nil {
				return err
			}
			client := c.client()
			current, err := client.getTemplate(cmd.Context(), id)
			if err != nil {
				return err
			}
			req, err := mergeTemplateUpdate(cmd, current, updateFlags)
			if err != nil {
				return err
			}
			t, err := client.updateTemplate(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			return p.render(t, func(w io.Writer) { printTemplate(w, t) })
		},
	}
	updateFlags.register(update)
	update.Flags().BoolVar(&updateFlags.clearPass, "clear-password", false, "remove the stored password")

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a template that is not bound in manual mode",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTemplateID(args[0])
			if err != nil {
				return err
			}
			p, err := c.printer()
			if err != nil {
				return err
			}
			if err := c.client().deleteTemplate(cmd.Context(), id); err != nil {
				return err
			}
			return p.message(map[string]any{"deleted": id}, fmt.Sprintf("template %d deleted", id))
		},
	}

	apply := &cobra.Command{
		Use:   "apply <id>",
		Short: "Push a template to the modem's internet context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showTemplateStatus(cmd, args[0], true)
		},
	}

	status := &cobra.Command{
		Use:   "status <id>",
		Short: "Show whether a template is applied and active on the modem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showTemplateStatus(cmd, args[0], false)
		},
	}

	cmd.AddCommand(list, get, create, update, del, apply, status)
	return cmd
}

func (c *cli) showTemplateStatus(cmd *cobra.Command, arg string, apply bool) error {
	id, err := parseTemplateID(arg)
	if err != nil {
		return err
	}
	p, err := c.printer()
	if err != nil {
		return err
	}
	client := c.client()
	var st templateStatusResponse
	if apply {
		st, err = client.applyTemplate(cmd.Context(), id)
	} else {
		st, err = client.templateStatus(cmd.Context(), id)
	}
	if err != nil {
		return err
	}
	return p.render(st, func(w io.Writer) { printTemplateStatus(w, st) })
}

func mergeTemplateUpdate(cmd *cobra.Command, current templateResponse, f templateFlags) (templateRequest, error) {
	flags := cmd.Flags()
	if flags.Changed("password") && f.clearPass {
		return templateRequest{}, fmt.Errorf("--password and --clear-password are mutually exclusive")
	}
	req := templateRequest{
		Name:       current.Name,
		APN:        current.APN,
		Protocol:   current.Protocol,
		Username:   current.Username,
		AuthMethod: current.AuthMethod,
	}
	if flags.Changed("name") {
		req.Name = f.name
	}
	if flags.Changed("apn") {
		req.APN = f.apn
	}
	if flags.Changed("protocol") {
		req.Protocol = f.protocol
	}
	if flags.Changed("username") {
		req.Username = f.username
	}
	if flags.Changed("auth") {
		req.AuthMethod = f.authMethod
	}
	switch {
	case flags.Changed("password"):
		password := f.password
		req.Password = &password
	case f.clearPass:
		empty := ""
		req.Password = &empty
	}
	return req, nil
}

func (c *cli) newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Reset to AUTO mode and restore default modem contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			m, err := c.client().clear(cmd.Context())
			if err != nil {
				return err
			}
			return p.render(m, func(w io.Writer) { printMode(w, m) })
		},
	}
}

func (c *cli) newContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contexts",
		Short: "List the modem's data contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			out, err := c.client().contexts(cmd.Context())
			if err != nil {
				return err
			}
			return p.render(out, func(w io.Writer) { printContexts(w, out) })
		},
	}
}

func (c *cli) newEventsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the daemon event log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.printer()
			if err != nil {
				return err
			}
			out, err := c.client().events(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return p.render(out, func(w io.Writer) { printEvents(w, out) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to show (default: daemon limit)")
	return cmd
}

func parseTemplateID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid template id %q", arg)
	}
	return id, nil
}
