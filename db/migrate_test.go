package db

import "testing"

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "postgres scheme",
			in:   "postgres://user:pw@localhost:5432/campusmate?sslmode=disable",
			want: "pgx5://user:pw@localhost:5432/campusmate?sslmode=disable",
		},
		{
			name: "postgresql scheme",
			in:   "postgresql://user:pw@localhost/campusmate",
			want: "pgx5://user:pw@localhost/campusmate",
		},
		{
			name: "uppercase scheme",
			in:   "POSTGRES://localhost/campusmate",
			want: "pgx5://localhost/campusmate",
		},
		{
			name:    "unsupported scheme",
			in:      "mysql://localhost/campusmate",
			wantErr: true,
		},
		{
			name:    "not a URL",
			in:      "://broken",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := migrateURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("migrateURL(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("migrateURL(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
