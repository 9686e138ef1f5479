package ssh

import "testing"

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want string
	}{
		{name: "plain words", argv: []string{"systemctl", "reload-or-restart", "chef-client.service"}, want: "systemctl reload-or-restart chef-client.service"},
		{name: "paths and versions", argv: []string{"/opt/chef/embedded/bin/gem", "install", "chef-vault", "--version", "4.1.0"}, want: "/opt/chef/embedded/bin/gem install chef-vault --version 4.1.0"},
		{name: "anchored pattern", argv: []string{"gem", "list", "-i", "^chef-vault$"}, want: "gem list -i '^chef-vault$'"},
		{name: "spaces", argv: []string{"echo", "a b"}, want: "echo 'a b'"},
		{name: "single quote", argv: []string{"echo", "it's"}, want: `echo 'it'\''s'`},
		{name: "empty argument", argv: []string{"echo", ""}, want: "echo ''"},
		{name: "shell metacharacters", argv: []string{"echo", "$(id);rm"}, want: "echo '$(id);rm'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commandLine(tt.argv[0], tt.argv[1:]); got != tt.want {
				t.Errorf("commandLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
