// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

// To use: fmt.Sprintf(indexDotHTMLTemplate, iblockVersion)
//                                               %[1]v
const indexDotHTMLTemplate string = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>iblock</title>
  </head>
  <body>
    <h1>iblock</h1>
    <p>Version %[1]v</p>
    <ul>
      <li><a href="/config">Config</a></li>
      <li><a href="/stats">Stats</a></li>
      <li><a href="/version">Version</a></li>
      <li><a href="/volume">Volume</a></li>
    </ul>
  </body>
</html>
`

// To use: fmt.Sprintf(configTemplate, iblockVersion, confMapJSONString)
//                                        %[1]v           %[2]v
const configTemplate string = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>iblock config</title>
  </head>
  <body>
    <h1>iblock config</h1>
    <p>Version %[1]v</p>
    <pre>%[2]v</pre>
  </body>
</html>
`
