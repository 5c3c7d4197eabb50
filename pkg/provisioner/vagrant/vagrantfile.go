package vagrant

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/jimyag/vmhost/pkg/provisioner"
)

var vagrantfileTmpl = template.Must(template.New("Vagrantfile").
	Funcs(template.FuncMap{"ruby": rubyString}).
	Parse(`Vagrant.configure("2") do |config|
  config.vm.box = {{ ruby .Box }}
  config.vm.hostname = {{ ruby .Hostname }}
{{- with .Network }}{{ if .IP }}
  config.vm.network "private_network", ip: {{ ruby .IP }}{{ if .Subnet }}, netmask: {{ ruby .Subnet }}{{ end }}
{{- end }}{{ end }}
{{- if or .CPU .MemoryMB }}
  config.vm.provider {{ ruby .Provider }} do |v|
{{- if .CPU }}
    v.cpus = {{ .CPU }}
{{- end }}
{{- if .MemoryMB }}
    v.memory = {{ .MemoryMB }}
{{- end }}
  end
{{- end }}
end
`))

type vagrantfileData struct {
	Box      string
	Hostname string
	Provider string
	CPU      int
	MemoryMB int
	Network  *provisioner.Network
}

// RenderVagrantfile 生成单台机器的 Vagrantfile
// provider 为空时使用 virtualbox
func RenderVagrantfile(name, box, provider string, opts provisioner.CreateOptions) (string, error) {
	if provider == "" {
		provider = defaultProvider
	}
	var buf bytes.Buffer
	err := vagrantfileTmpl.Execute(&buf, vagrantfileData{
		Box:      box,
		Hostname: name,
		Provider: provider,
		CPU:      opts.CPU,
		MemoryMB: opts.MemoryMB,
		Network:  opts.Network,
	})
	if err != nil {
		return "", fmt.Errorf("render Vagrantfile for %s: %w", name, err)
	}
	return buf.String(), nil
}

// rubyString 单引号字符串不做插值
func rubyString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
