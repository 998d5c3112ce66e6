//go:build integration

package tests

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fan-monitor/integration/helpers"
)

func defaultDevices() []helpers.FakeDevice {
	return []helpers.FakeDevice{
		{Name: "Bedroom", Model: "Core300S", CID: "c1", On: true, Mode: "auto", Level: 1, Online: true, Filter: 90, AirValue: 3},
		{Name: "Office", Model: "Core400S", CID: "c2", On: false, Mode: "manual", Level: 2, Online: true, Filter: 60, AirValue: 8},
	}
}

// startServer は擬似クラウドとテストサーバーを起動する
func startServer(t *testing.T, secretKey string, devices ...helpers.FakeDevice) (*helpers.TestServer, *helpers.FakeCloud) {
	t.Helper()
	if len(devices) == 0 {
		devices = defaultDevices()
	}

	cloud := helpers.NewFakeCloud(devices...)
	t.Cleanup(cloud.Close)

	server, err := helpers.NewTestServer(cloud)
	require.NoError(t, err, "テストサーバーの作成")
	server.Config.SecretKey = secretKey

	require.NoError(t, server.Start(), "サーバーの起動")
	t.Cleanup(func() { _ = server.Stop() })
	return server, cloud
}
