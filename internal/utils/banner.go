package utils

// DriftSyncArt is the CLI startup banner.
const DriftSyncArt = `
      _      _  ___  _
   __| |_ __(_)/ _/| |_ ____ _   _ _ __   ___
  / _' | '__| |\ \ | __|_  /| | | | '_ \ / __|
 | (_| | |  | |_\ \| |_ / / | |_| | | | | (__
  \__,_|_|  |_|\__/ \__/___| \__, |_| |_|\___|
                             |___/
`
